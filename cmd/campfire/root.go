package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/campfire-client/internal/campfire"
	"github.com/vovakirdan/campfire-client/internal/config"
	"github.com/vovakirdan/campfire-client/internal/log"
	"github.com/vovakirdan/campfire-client/internal/room"
	"github.com/vovakirdan/campfire-client/internal/session"
	"github.com/vovakirdan/campfire-client/internal/stream"
)

// app carries what every subcommand needs once the root has loaded config.
type app struct {
	configPath string
	logLevel   string
	transport  string
	roomRef    string

	cfg    config.Config
	log    *zerolog.Logger
	client *campfire.Client
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "campfire",
		Short:         "Talk to Campfire chat rooms from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to campfire.yaml")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (trace, debug, info, warn, error, off)")
	flags.StringVar(&a.transport, "transport", "", "live stream transport (http, websocket)")
	flags.StringVarP(&a.roomRef, "room", "r", "", "room name or id")

	root.AddCommand(
		newRoomsCommand(a),
		newWhoamiCommand(a),
		newSpeakCommand(a),
		newTopicCommand(a),
		newInfoCommand(a),
		newUsersCommand(a),
		newTranscriptCommand(a),
		newSearchCommand(a),
		newRecentCommand(a),
		newUploadCommand(a),
		newFilesCommand(a),
		newListenCommand(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	bootstrap := log.NewWithWriter(a.logLevel, cmd.ErrOrStderr())
	cfg, path, err := config.Load(bootstrap, a.configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.UpdateFrom(config.Config{
		LogLevel: a.logLevel,
		Stream:   config.StreamConfig{Transport: a.transport},
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log.NewWithWriter(cfg.LogLevel, cmd.ErrOrStderr())

	client, err := campfire.New(clientConfig(cfg, a.log))
	if err != nil {
		return err
	}
	a.client = client
	return nil
}

func clientConfig(cfg config.Config, logger *zerolog.Logger) campfire.Config {
	policy := room.PolicySkip
	if cfg.FailurePolicy == config.FailurePolicyAbort {
		policy = room.PolicyAbort
	}
	return campfire.Config{
		Session: session.Config{
			Subdomain:  cfg.Subdomain,
			Host:       cfg.Host,
			DisableSSL: !cfg.SSL,
			BaseURL:    cfg.BaseURL,
			StreamHost: cfg.StreamHost,
			Token:      cfg.Token,
			OAuthToken: cfg.OAuthToken,
			Username:   cfg.Username,
			Password:   cfg.Password,
			Logger:     logger,
		},
		Transport:     cfg.Stream.Transport,
		Retry:         stream.Retry{MaxRetries: cfg.Stream.MaxRetries},
		StreamTimeout: cfg.Stream.Timeout,
		FailurePolicy: policy,
		Logger:        logger,
	}
}

// room resolves --room as an id first, then as a name.
func (a *app) room(ctx context.Context) (*room.Room, error) {
	if a.roomRef == "" {
		return nil, errors.New("--room is required")
	}
	if id, err := strconv.ParseInt(a.roomRef, 10, 64); err == nil {
		return a.client.Room(id), nil
	}
	return a.client.FindRoomByName(ctx, a.roomRef)
}

func (a *app) printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}

func printMessage(cmd *cobra.Command, msg *room.Message) {
	author := "-"
	if msg.User != nil {
		author = msg.User.Name
	}
	switch msg.Type {
	case room.TextMessage, room.PasteMessage, room.TweetMessage, room.SoundMessage:
		fmt.Fprintf(cmd.OutOrStdout(), "%s [%d] %s: %s\n", msg.CreatedAt.Local().Format("15:04:05"), msg.ID, author, msg.Body)
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "%s [%d] %s (%s) %s\n", msg.CreatedAt.Local().Format("15:04:05"), msg.ID, author, msg.Type, msg.Body)
	}
}
