package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/sjawhar/newscast/internal/backend"
	"github.com/sjawhar/newscast/internal/storage"
)

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Store the bearer token used for the backend",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "token", Usage: "Bearer token issued by the sign-in flow", Required: true},
			&cli.StringFlag{Name: "user-id", Usage: "Known user id; registered with the backend when omitted"},
		},
		Action: loginAction,
	}
}

func loginAction(c *cli.Context) error {
	app, err := openApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	token := strings.TrimSpace(c.String("token"))
	if token == "" {
		return cli.Exit("token must not be empty", 1)
	}
	if err := app.store.SetSetting(storage.KeyAuthToken, token); err != nil {
		return err
	}

	userID := strings.TrimSpace(c.String("user-id"))
	if userID == "" {
		client, err := app.backend()
		if err != nil {
			return err
		}
		userID, err = client.CreateUser(c.Context)
		if err != nil {
			_ = app.store.DeleteSettings(storage.KeyAuthToken)
			return backendError(err)
		}
	}
	if err := app.store.SetSetting(storage.KeyUserID, userID); err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "logged in as %s\n", userID)
	return nil
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Forget the stored token and user id",
		Action: func(c *cli.Context) error {
			app, err := openApp(c)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.store.DeleteSettings(storage.KeyAuthToken, storage.KeyUserID)
		},
	}
}

func prefsCommand() *cli.Command {
	return &cli.Command{
		Name:  "prefs",
		Usage: "Show or change brief preferences",
		Subcommands: []*cli.Command{
			{
				Name:   "get",
				Usage:  "Print the saved preferences",
				Action: prefsGetAction,
			},
			{
				Name:  "set",
				Usage: "Replace topics or sources, or pick a voice",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "topic", Usage: "Topic to follow (repeatable)"},
					&cli.StringSliceFlag{Name: "source", Usage: "Source to draw from (repeatable)"},
					&cli.StringFlag{Name: "voice", Usage: fmt.Sprintf("%s or %s", backend.VoiceAoede, backend.VoiceAlnilam)},
				},
				Action: prefsSetAction,
			},
		},
	}
}

func prefsGetAction(c *cli.Context) error {
	app, err := openApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	client, err := app.backend()
	if err != nil {
		return err
	}
	prefs, err := client.GetPreferences(c.Context)
	if err != nil {
		return backendError(err)
	}
	return printJSON(c.App.Writer, prefs)
}

func prefsSetAction(c *cli.Context) error {
	app, err := openApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	client, err := app.backend()
	if err != nil {
		return err
	}
	prefs, err := client.GetPreferences(c.Context)
	if err != nil {
		return backendError(err)
	}
	prefs = mergePreferences(prefs, c.StringSlice("topic"), c.StringSlice("source"), c.String("voice"))

	if err := client.SavePreferences(c.Context, prefs); err != nil {
		if errors.Is(err, backend.ErrInvalidPreferences) {
			return cli.Exit(err.Error(), 1)
		}
		return backendError(err)
	}
	return printJSON(c.App.Writer, prefs)
}

// mergePreferences replaces only the fields the user passed.
func mergePreferences(prefs backend.Preferences, topics, sources []string, voice string) backend.Preferences {
	if len(topics) > 0 {
		prefs.Topics = backend.StringList(topics)
	}
	if len(sources) > 0 {
		prefs.Sources = backend.StringList(sources)
	}
	if voice = strings.TrimSpace(voice); voice != "" {
		prefs.Voice = voice
	}
	return prefs
}

func vadCommand() *cli.Command {
	toggle := func(enabled bool) func(*cli.Context) error {
		return func(c *cli.Context) error {
			app, err := openApp(c)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.store.SetVADEnabled(enabled)
		}
	}
	return &cli.Command{
		Name:  "vad",
		Usage: "Turn interrupt-by-speaking on or off",
		Subcommands: []*cli.Command{
			{Name: "on", Usage: "Interrupt playback when you start talking", Action: toggle(true)},
			{Name: "off", Usage: "Only the call button interrupts playback", Action: toggle(false)},
		},
	}
}
