package server

import (
	"io/fs"
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/sjawhar/newscast/internal/logging"
	"github.com/sjawhar/newscast/internal/session"
)

// Controls are the session gestures exposed to local UIs.
type Controls interface {
	PressCall() error
	ToggleBrief() error
	ReturnToBrief() error
	StopAnswer() error
	SetVADEnabled(enabled bool) error
	Snapshot() session.Snapshot
}

// VADSettings persists the voice activity preference across restarts.
type VADSettings interface {
	SetVADEnabled(enabled bool) error
}

type Options struct {
	Static   fs.FS
	Hub      *Hub
	Controls Controls
	History  HistoryStore
	Settings VADSettings
	Warnings func() []string
	Logger   *zap.Logger
}

func Handler(opts Options) (http.Handler, error) {
	if opts.Hub == nil {
		opts.Hub = NewHub(opts.Logger)
	}
	log := logging.OrNop(opts.Logger)

	mux := http.NewServeMux()

	registerWSRoute(mux, opts.Hub, log)
	registerAPIRoutes(mux, opts, log)

	if opts.Static != nil {
		fileServer := http.FileServer(http.FS(opts.Static))
		mux.HandleFunc("/", serveSPA(fileServer))
	}

	return mux, nil
}

func serveSPA(fileServer http.Handler) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/ws" {
			http.NotFound(w, r)
			return
		}

		cleanPath := path.Clean(strings.TrimPrefix(r.URL.Path, "/"))
		if cleanPath == "." || cleanPath == "" || !strings.Contains(cleanPath, ".") {
			r.URL.Path = "/"
		} else {
			r.URL.Path = "/" + cleanPath
		}

		fileServer.ServeHTTP(w, r)
	}
}
