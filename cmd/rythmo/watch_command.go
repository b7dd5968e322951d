package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"rythmo/internal/api"
	"rythmo/internal/events"
	"rythmo/internal/store"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var projectID int64
	var since int64
	var follow bool
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream job events from the daemon",
		Long: "Stream job events over a websocket. With --since, buffered events after\n" +
			"that sequence are replayed first. Without --follow the command exits after\n" +
			"every watched job reached a terminal state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				var cursor *uint64
				if since >= 0 {
					value := uint64(since)
					cursor = &value
				}
				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				active := map[string]bool{}
				errDone := errors.New("done")

				err := client.Watch(cmd.Context(), cursor, projectID, func(evt events.Event) error {
					if asJSON {
						if err := writeJSON(cmd, evt); err != nil {
							return err
						}
					} else {
						printEvent(stdout, evt, colorize)
					}
					if follow || evt.Origin != "" {
						return nil
					}
					key := fmt.Sprintf("%d/%s", evt.ProjectID, evt.Feature)
					if terminalEvent(evt.Type) {
						delete(active, key)
						if len(active) == 0 {
							return errDone
						}
						return nil
					}
					if evt.Type != events.TypeCancelRequested {
						active[key] = true
					}
					return nil
				})
				if errors.Is(err, errDone) || errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().Int64Var(&projectID, "project", 0, "Only show events for this project")
	cmd.Flags().Int64Var(&since, "since", -1, "Replay buffered events after this sequence number")
	cmd.Flags().BoolVarP(&follow, "follow", "f", true, "Keep streaming after jobs finish")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON event per line")
	return cmd
}

func terminalEvent(t events.Type) bool {
	switch t {
	case events.TypeJobCompleted, events.TypeJobFailed, events.TypeJobCancelled:
		return true
	default:
		return false
	}
}

func printEvent(w io.Writer, evt events.Event, colorize bool) {
	label := evt.Feature
	if feature, err := store.ParseFeature(evt.Feature); err == nil {
		label = feature.Label()
	}
	status := store.Status(evt.Status)
	if status == "" {
		status = store.Status(strings.TrimPrefix(string(evt.Type), "job_"))
	}
	progress := fmt.Sprintf("%3d%%", evt.Progress)
	if evt.Estimated {
		progress = "~" + strings.TrimSpace(progress)
	}
	line := fmt.Sprintf("#%d %s project=%d %s %s %s",
		evt.Sequence,
		evt.Timestamp.Local().Format("15:04:05"),
		evt.ProjectID,
		label,
		colorizeStatus(status, false, colorize),
		progress,
	)
	if evt.Message != "" {
		line += " " + evt.Message
	}
	if evt.Origin != "" {
		line += " (via " + evt.Origin + ")"
	}
	fmt.Fprintln(w, line)
}
