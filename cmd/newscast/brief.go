package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/sjawhar/newscast/internal/backend"
	"github.com/sjawhar/newscast/internal/logging"
	"github.com/sjawhar/newscast/internal/storage"
)

var errNoBriefAvailable = errors.New("no daily brief available")

type briefSource interface {
	LatestBrief(ctx context.Context) (backend.DailyBrief, error)
	FetchAudio(ctx context.Context, ref string) ([]byte, error)
}

type briefCache interface {
	LatestBrief() (storage.Brief, error)
	GetBrief(id string) (storage.Brief, error)
	SaveBrief(b storage.Brief) error
}

type briefLoader interface {
	LoadBrief(id string, audio []byte, position time.Duration) error
}

// syncBrief loads the newest brief into loader. The backend is asked first;
// audio already cached for that brief is reused along with its saved
// position. Without a reachable backend the newest cached brief is used.
// A nil src means offline.
func syncBrief(ctx context.Context, src briefSource, cache briefCache, loader briefLoader, log *zap.Logger) (storage.Brief, error) {
	log = logging.OrNop(log)

	var remote backend.DailyBrief
	remoteErr := errNoBriefAvailable
	if src != nil {
		remote, remoteErr = src.LatestBrief(ctx)
	}

	var b storage.Brief
	if remoteErr == nil {
		cached, cacheErr := cache.GetBrief(remote.ID)
		if cacheErr == nil && len(cached.Audio) > 0 {
			b = cached
		} else {
			data, err := src.FetchAudio(ctx, remote.AudioURL)
			if err != nil {
				return storage.Brief{}, fmt.Errorf("fetch brief audio: %w", err)
			}
			b = storage.Brief{
				ID:         remote.ID,
				AudioURL:   remote.AudioURL,
				Transcript: remote.Transcript,
				CreatedAt:  remote.CreatedAt,
				Audio:      data,
			}
			if cacheErr == nil {
				b.Position = cached.Position
			}
			if err := cache.SaveBrief(b); err != nil {
				log.Warn("cache brief failed", zap.String("brief", b.ID), zap.Error(err))
			}
		}
	} else {
		if src != nil && !errors.Is(remoteErr, backend.ErrNotFound) {
			log.Warn("latest brief unavailable, using cache", zap.Error(remoteErr))
		}
		cached, err := cache.LatestBrief()
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Brief{}, errNoBriefAvailable
		}
		if err != nil {
			return storage.Brief{}, err
		}
		b = cached
	}

	if loader != nil {
		if err := loader.LoadBrief(b.ID, b.Audio, b.Position); err != nil {
			return b, fmt.Errorf("load brief %s: %w", b.ID, err)
		}
	}
	log.Info("daily brief ready", zap.String("brief", b.ID), zap.Duration("position", b.Position))
	return b, nil
}

func briefCommand() *cli.Command {
	return &cli.Command{
		Name:  "brief",
		Usage: "Check, download or generate today's brief",
		Subcommands: []*cli.Command{
			{Name: "status", Usage: "Whether today's brief exists", Action: briefStatusAction},
			{Name: "latest", Usage: "Download the newest brief into the local cache", Action: briefLatestAction},
			{Name: "generate", Usage: "Ask the backend to generate today's brief", Action: briefGenerateAction},
		},
	}
}

func briefStatusAction(c *cli.Context) error {
	app, err := openApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	client, err := app.backend()
	if err != nil {
		return err
	}
	status, err := client.BriefStatusToday(c.Context)
	if err != nil {
		return backendError(err)
	}
	return printJSON(c.App.Writer, status)
}

func briefLatestAction(c *cli.Context) error {
	app, err := openApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	client, err := app.backend()
	if err != nil {
		return err
	}
	b, err := syncBrief(c.Context, client, app.store, nil, app.log)
	if err != nil {
		if errors.Is(err, errNoBriefAvailable) {
			return cli.Exit(err.Error(), 1)
		}
		return backendError(err)
	}
	return printJSON(c.App.Writer, b)
}

func briefGenerateAction(c *cli.Context) error {
	app, err := openApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	client, err := app.backend()
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.ErrWriter, "generating brief, this can take a few minutes...")
	generated, err := client.GenerateBrief(c.Context)
	if err != nil {
		return backendError(err)
	}
	data, err := client.FetchAudio(c.Context, generated.AudioURL)
	if err != nil {
		return backendError(err)
	}
	b := storage.Brief{
		ID:         generated.ID,
		AudioURL:   generated.AudioURL,
		Transcript: generated.Transcript,
		CreatedAt:  generated.CreatedAt,
		Audio:      data,
	}
	if err := app.store.SaveBrief(b); err != nil {
		return err
	}
	return printJSON(c.App.Writer, b)
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recent questions",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20, Usage: "Maximum entries"},
			&cli.BoolFlag{Name: "remote", Usage: "Read the backend history instead of the local journal"},
		},
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	app, err := openApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	limit := c.Int("limit")
	if c.Bool("remote") {
		client, err := app.backend()
		if err != nil {
			return err
		}
		entries, err := client.History(c.Context, limit)
		if err != nil {
			return backendError(err)
		}
		return printJSON(c.App.Writer, entries)
	}

	cycles, err := app.store.RecentCycles(limit)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, cycles)
}
