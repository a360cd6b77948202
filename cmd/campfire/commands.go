package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/campfire-client/internal/room"
)

func newRoomsCommand(a *app) *cobra.Command {
	var present bool
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List rooms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list := a.client.Rooms
			if present {
				list = a.client.Presence
			}
			rooms, err := list(cmd.Context())
			if err != nil {
				return err
			}
			for _, r := range rooms {
				a.printf(cmd, "%d\t%s\n", r.ID(), r.Name())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&present, "present", false, "only rooms you are in")
	return cmd
}

func newWhoamiCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			me, err := a.client.Me(cmd.Context())
			if err != nil {
				return err
			}
			a.printf(cmd, "%d\t%s\t%s\t%s\n", me.ID, me.Name, me.EmailAddress, a.client.Session().Mode())
			return nil
		},
	}
}

func newSpeakCommand(a *app) *cobra.Command {
	var paste, sound, tweet bool
	cmd := &cobra.Command{
		Use:   "speak <text>...",
		Short: "Post a message to a room",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.room(cmd.Context())
			if err != nil {
				return err
			}
			send := r.Speak
			switch {
			case paste:
				send = r.Paste
			case sound:
				send = r.Play
			case tweet:
				send = r.Tweet
			}
			msg, err := send(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			printMessage(cmd, msg)
			return nil
		},
	}
	cmd.Flags().BoolVar(&paste, "paste", false, "post as a paste")
	cmd.Flags().BoolVar(&sound, "sound", false, "play a sound")
	cmd.Flags().BoolVar(&tweet, "tweet", false, "post a tweet url")
	cmd.MarkFlagsMutuallyExclusive("paste", "sound", "tweet")
	return cmd
}

func newTopicCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "topic [new topic]",
		Short: "Show or change the room topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.room(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) > 0 {
				return r.SetTopic(cmd.Context(), strings.Join(args, " "))
			}
			topic, err := r.Topic(cmd.Context())
			if err != nil {
				return err
			}
			a.printf(cmd, "%s\n", topic)
			return nil
		},
	}
}

func newInfoCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show room capacity and guest access",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			r, err := a.room(ctx)
			if err != nil {
				return err
			}
			full, err := r.Full(ctx)
			if err != nil {
				return err
			}
			limit, err := r.MembershipLimit(ctx)
			if err != nil {
				return err
			}
			guests, err := r.GuestURL(ctx)
			if err != nil {
				return err
			}
			if guests == "" {
				guests = "off"
			}
			a.printf(cmd, "name\t%s\nfull\t%t\nlimit\t%d\nguests\t%s\n", r.Name(), full, limit, guests)
			return nil
		},
	}
}

func newUsersCommand(a *app) *cobra.Command {
	var current bool
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List users in the room",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.room(cmd.Context())
			if err != nil {
				return err
			}
			list := r.Users
			if current {
				list = r.CurrentUsers
			}
			users, err := list(cmd.Context())
			if err != nil {
				return err
			}
			for _, u := range users {
				a.printf(cmd, "%d\t%s\n", u.ID, u.Name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&current, "current", false, "reload the room instead of using the cached roster")
	return cmd
}

func newTranscriptCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "transcript [YYYY-MM-DD]",
		Short: "Print the room transcript for a day (default today)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day := time.Now()
			if len(args) == 1 {
				parsed, err := time.Parse("2006-01-02", args[0])
				if err != nil {
					return fmt.Errorf("invalid date %q: %w", args[0], err)
				}
				day = parsed
			}
			r, err := a.room(cmd.Context())
			if err != nil {
				return err
			}
			messages, err := r.Transcript(cmd.Context(), day)
			if err != nil {
				return err
			}
			for _, msg := range messages {
				printMessage(cmd, msg)
			}
			return nil
		},
	}
}

func newSearchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search <term>...",
		Short: "Search the room's messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.room(cmd.Context())
			if err != nil {
				return err
			}
			messages, err := r.Search(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			for _, msg := range messages {
				printMessage(cmd, msg)
			}
			return nil
		},
	}
}

func newRecentCommand(a *app) *cobra.Command {
	var opts room.RecentOptions
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Print the latest messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.room(cmd.Context())
			if err != nil {
				return err
			}
			messages, err := r.Recent(cmd.Context(), opts)
			if err != nil {
				return err
			}
			for _, msg := range messages {
				printMessage(cmd, msg)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "number of messages")
	cmd.Flags().Int64Var(&opts.SinceMessageID, "since", 0, "only messages after this id")
	return cmd
}

func newUploadCommand(a *app) *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file to the room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.room(cmd.Context())
			if err != nil {
				return err
			}
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			upload, err := r.Upload(cmd.Context(), args[0], contentType, file)
			if err != nil {
				return err
			}
			a.printf(cmd, "%s\n", upload.FullURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "content type (guessed from the extension when empty)")
	return cmd
}

func newFilesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "files",
		Short: "List recently uploaded files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.room(cmd.Context())
			if err != nil {
				return err
			}
			urls, err := r.Files(cmd.Context())
			if err != nil {
				return err
			}
			for _, url := range urls {
				a.printf(cmd, "%s\n", url)
			}
			return nil
		},
	}
}
