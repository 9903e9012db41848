package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	microphone "github.com/deepgram/deepgram-go-sdk/v3/pkg/audio/microphone"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/sjawhar/newscast/internal/audio"
	"github.com/sjawhar/newscast/internal/channel"
	"github.com/sjawhar/newscast/internal/config"
	"github.com/sjawhar/newscast/internal/playback"
	"github.com/sjawhar/newscast/internal/protocol"
	"github.com/sjawhar/newscast/internal/server"
	"github.com/sjawhar/newscast/internal/session"
	"github.com/sjawhar/newscast/internal/storage"
	"github.com/sjawhar/newscast/internal/vad"
)

//go:embed static/*
var staticFiles embed.FS

const speakerRate = 44100

func listenCommand() *cli.Command {
	return &cli.Command{
		Name:   "listen",
		Usage:  "Play the daily brief and take spoken questions",
		Action: listenAction,
	}
}

func listenAction(c *cli.Context) error {
	app, err := openApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	cfg := app.cfg
	log := app.log
	warnings := append([]string(nil), app.warnings...)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	token := app.token()
	if token == "" {
		warnings = append(warnings, "Not logged in: questions are disabled until `newscast login` is run.")
	}

	sampleRate := cfg.MicSampleRate
	if err := audio.Init(); err != nil {
		log.Warn("audio init failed", zap.Error(err))
		warnings = append(warnings, fmt.Sprintf("Microphone unavailable: %v", err))
	} else {
		defer audio.Terminate()
		rate, err := probeSampleRate(cfg.SampleRateCandidates(), func(rate int) (audio.Device, error) {
			m, err := audio.OpenMic(rate, cfg.FramesPerBuffer)
			if err != nil {
				return nil, err
			}
			return m, nil
		}, log)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Microphone unavailable: %v", err))
		} else {
			sampleRate = rate
		}
	}

	out, err := playback.Speaker(speakerRate)
	if err != nil {
		return fmt.Errorf("speaker init failed: %w", err)
	}

	formats, err := playback.ParseFormats(cfg.AnswerFormats)
	if err != nil {
		return err
	}

	// Callbacks below run only after the manager exists.
	var mgr *session.Manager

	var archive *audio.Archive
	if cfg.KeepRecordings {
		archive = audio.NewArchive(cfg.RecordingsDir)
	}

	capture := audio.NewCapture(audio.CaptureOptions{
		Open:      audio.MicOpener(sampleRate, cfg.FramesPerBuffer),
		Logger:    log.Named("capture"),
		Archive:   archive,
		OnFailure: func(err error) { mgr.CaptureFailed(err) },
	})

	ch := channel.New(channel.Options{
		URL: func() (string, error) {
			tok := app.token()
			if tok == "" {
				return "", errors.New("not logged in")
			}
			return cfg.WebSocketURL(tok)
		},
		ConnectTimeout: cfg.ParsedConnectTimeout(),
		Logger:         log,
		OnEvent:        func(ev protocol.Event) { mgr.HandleEvent(ev) },
		OnClosed:       func(err error) { mgr.ChannelClosed(err) },
	})
	defer func() { _ = ch.Close() }()

	briefRenderer := playback.NewRenderer(out, playback.Callbacks{
		OnEnded: func(id string) { mgr.BriefEnded(id) },
		OnError: func(id string, err error) { mgr.BriefFailed(id, err) },
	}, log.Named("brief"))
	answerRenderer := playback.NewRenderer(out, playback.Callbacks{
		OnEnded: func(id string) { mgr.AnswerEnded(id) },
		OnError: func(id string, err error) { mgr.AnswerFailed(id, err) },
	}, log.Named("answer"))

	if cfg.VAD.Provider == config.VADProviderDeepgram {
		microphone.Initialize()
		defer microphone.Teardown()
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
	}
	monitor := newMonitor(cfg, sampleRate, log)

	vadEnabled, err := app.store.VADEnabled(cfg.VAD.Enabled)
	if err != nil {
		log.Warn("read vad setting failed", zap.Error(err))
	}

	hub := server.NewHub(log)
	opts := session.Options{
		Channel:    ch,
		Capture:    capture,
		Brief:      briefRenderer,
		Answer:     answerRenderer,
		Decoder:    playback.NewDecoder(formats, cfg.AnswerPCMRate),
		Monitor:    monitor,
		Timer:      session.NewResumeTimer(cfg.ParsedResumeDelay()),
		Journal:    storage.NewJournal(app.store, storage.NewWriter(cfg.TranscriptDir), log),
		Hub:        hub,
		Logger:     log,
		SampleRate: sampleRate,
		VADEnabled: vadEnabled,
	}
	if archive != nil {
		opts.Archive = archive
	}
	mgr = session.NewManager(opts)

	runDone := make(chan error, 1)
	go func() { runDone <- mgr.Run(ctx) }()

	go func() {
		var src briefSource
		if token != "" {
			bc, err := app.backend()
			if err != nil {
				log.Warn("backend client unavailable", zap.Error(err))
			} else {
				src = bc
			}
		}
		if _, err := syncBrief(ctx, src, app.store, mgr, log); err != nil {
			log.Warn("no brief loaded", zap.Error(err))
		}
	}()

	assets, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return fmt.Errorf("static assets init failed: %w", err)
	}
	handler, err := server.Handler(server.Options{
		Static:   assets,
		Hub:      hub,
		Controls: mgr,
		History:  app.store,
		Settings: app.store,
		Warnings: func() []string { return warnings },
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("build http handler failed: %w", err)
	}

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	log.Info("newscast: control page", zap.String("url", "http://"+cfg.ListenAddr), zap.Int("mic_sample_rate", sampleRate))

	<-ctx.Done()
	log.Info("newscast: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown failed", zap.Error(err))
	}

	select {
	case err := <-runDone:
		return err
	case <-shutdownCtx.Done():
		return errors.New("session did not stop in time")
	}
}

// probeSampleRate returns the first rate the input device accepts.
func probeSampleRate(candidates []int, open func(rate int) (audio.Device, error), log *zap.Logger) (int, error) {
	var lastErr error
	for _, rate := range candidates {
		dev, err := open(rate)
		if err != nil {
			log.Warn("microphone open failed", zap.Int("sample_rate", rate), zap.Error(err))
			lastErr = err
			if errors.Is(err, audio.ErrPermissionDenied) {
				break
			}
			continue
		}
		_ = dev.Close()
		return rate, nil
	}
	if lastErr == nil {
		lastErr = audio.ErrDeviceUnavailable
	}
	return 0, lastErr
}

func newMonitor(cfg config.Config, sampleRate int, log *zap.Logger) session.Monitor {
	if cfg.VAD.Provider == config.VADProviderDeepgram {
		return vad.NewDeepgram(vad.DeepgramOptions{
			APIKey:     cfg.DeepgramAPIKey,
			SampleRate: sampleRate,
			Logger:     log,
		})
	}
	return vad.NewEnergy(vad.EnergyOptions{
		Open: audio.MicOpener(sampleRate, cfg.FramesPerBuffer),
		Config: vad.Config{
			PositiveSpeechThreshold: cfg.VAD.PositiveSpeechThreshold,
			MinSpeechFrames:         cfg.VAD.MinSpeechFrames,
			RedemptionFrames:        cfg.VAD.RedemptionFrames,
		},
		Logger: log,
	})
}
