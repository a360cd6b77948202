package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/campfire-client/internal/archive"
	"github.com/vovakirdan/campfire-client/internal/room"
)

func newListenCommand(a *app) *cobra.Command {
	var archivePath string
	var backfill bool
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Join the room and print live messages until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			r, err := a.room(ctx)
			if err != nil {
				return err
			}

			if archivePath == "" {
				archivePath = a.cfg.ArchivePath
			}
			var store *archive.Store
			if archivePath != "" {
				store, err = archive.Open(archivePath)
				if err != nil {
					return err
				}
				defer store.Close()
				if backfill {
					if err := backfillArchive(ctx, a, r, store); err != nil {
						return err
					}
				}
			}

			a.log.Info().Int64("room_id", r.ID()).Str("archive", archivePath).Msg("listening")
			err = r.Listen(ctx, func(msg *room.Message) {
				printMessage(cmd, msg)
				if store == nil {
					return
				}
				if _, err := store.Save(ctx, msg); err != nil {
					a.log.Error().Err(err).Int64("message_id", msg.ID).Msg("failed to archive message")
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&archivePath, "archive", "", "SQLite file to archive messages into (default archive_path from config)")
	cmd.Flags().BoolVar(&backfill, "backfill", true, "fetch messages missed since the last archived one before listening")
	return cmd
}

// backfillPageSize is how many messages each backfill request asks for.
var backfillPageSize = 100

// backfillArchive stores messages posted since the newest archived one,
// paging until the service returns a short page.
func backfillArchive(ctx context.Context, a *app, r *room.Room, store *archive.Store) error {
	last, err := store.LastMessageID(ctx, r.ID())
	if err != nil {
		return err
	}
	if last == 0 {
		return nil
	}

	since, saved := last, 0
	for {
		page, err := r.Recent(ctx, room.RecentOptions{Limit: backfillPageSize, SinceMessageID: since})
		if err != nil {
			return err
		}
		next := since
		for _, msg := range page {
			inserted, err := store.Save(ctx, msg)
			if err != nil {
				return err
			}
			if inserted {
				saved++
			}
			if msg.ID > next {
				next = msg.ID
			}
		}
		if len(page) < backfillPageSize || next == since {
			break
		}
		since = next
	}
	a.log.Info().Int("messages", saved).Int64("since", last).Msg("archive backfilled")
	return nil
}
