package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/sjawhar/newscast/internal/backend"
	"github.com/sjawhar/newscast/internal/config"
	"github.com/sjawhar/newscast/internal/logging"
	"github.com/sjawhar/newscast/internal/storage"
)

// Exit codes.
const (
	exitNotLoggedIn = 2
	exitBackend     = 3
)

type appContext struct {
	cfg      config.Config
	warnings []string
	log      *zap.Logger
	store    *storage.SQLiteStore
}

func openApp(c *cli.Context) (*appContext, error) {
	log := logging.New(c.String("log-level"), c.App.ErrWriter)

	cfg, warnings, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		log.Warn(w)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}

	return &appContext{cfg: cfg, warnings: warnings, log: log, store: store}, nil
}

func (a *appContext) Close() {
	_ = a.store.Close()
	_ = a.log.Sync()
}

// token prefers the environment over the stored login.
func (a *appContext) token() string {
	if a.cfg.AuthToken != "" {
		return a.cfg.AuthToken
	}
	tok, _, err := a.store.Setting(storage.KeyAuthToken)
	if err != nil {
		a.log.Warn("read stored token failed", zap.Error(err))
	}
	return strings.TrimSpace(tok)
}

func (a *appContext) backend() (*backend.Client, error) {
	return backend.New(backend.Options{
		BaseURL: a.cfg.BackendBaseURL(),
		Token:   a.token(),
		Logger:  a.log,
	})
}

// backendError turns client failures into exit codes a script can act on.
func backendError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, backend.ErrUnauthorized) {
		return cli.Exit("not logged in: run `newscast login --token <token>`", exitNotLoggedIn)
	}
	return cli.Exit(fmt.Sprintf("backend: %v", err), exitBackend)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
