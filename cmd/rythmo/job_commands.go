package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"rythmo/internal/api"
	"rythmo/internal/store"
	"rythmo/internal/workflow"
)

func newJobCommands(ctx *commandContext) []*cobra.Command {
	var paramsFlag string
	startCmd := &cobra.Command{
		Use:   "start <feature> <project>",
		Short: "Queue a job for a project",
		Long:  "Queue a job for a project. Features: " + featureChoices() + ".",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			feature, err := parseFeatureArg(args[0])
			if err != nil {
				return err
			}
			id, err := parseProjectID(args[1])
			if err != nil {
				return err
			}
			var params json.RawMessage
			if raw := strings.TrimSpace(paramsFlag); raw != "" {
				if !json.Valid([]byte(raw)) {
					return fmt.Errorf("--params is not valid JSON")
				}
				params = json.RawMessage(raw)
			}
			return ctx.withClient(func(client *api.Client) error {
				var body any
				if params != nil {
					body = params
				}
				resp, err := client.Start(cmd.Context(), id, feature, body)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s queued for project %d (run %s)\n", feature.Label(), id, resp.RunID)
				return nil
			})
		},
	}
	startCmd.Flags().StringVarP(&paramsFlag, "params", "p", "", "Job parameters as a JSON object")

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status <project> [feature]",
		Short: "Show job status for a project",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProjectID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				var jobs []workflow.JobStatus
				if len(args) == 2 {
					feature, err := parseFeatureArg(args[1])
					if err != nil {
						return err
					}
					job, err := client.Status(cmd.Context(), id, feature)
					if err != nil {
						return err
					}
					if statusJSON {
						return writeJSON(cmd, job)
					}
					jobs = []workflow.JobStatus{job}
				} else {
					jobs, err = client.Jobs(cmd.Context(), id)
					if err != nil {
						return err
					}
					if statusJSON {
						return writeJSON(cmd, api.JobListResponse{Jobs: jobs})
					}
				}
				stdout := cmd.OutOrStdout()
				fmt.Fprint(stdout, renderJobTable(jobs, shouldColorize(stdout)))
				fmt.Fprintln(stdout)
				return nil
			})
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print job status as JSON")

	cancelCmd := &cobra.Command{
		Use:   "cancel <feature> <project>",
		Short: "Cancel the active job of a feature",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			feature, err := parseFeatureArg(args[0])
			if err != nil {
				return err
			}
			id, err := parseProjectID(args[1])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				if err := client.Cancel(cmd.Context(), id, feature); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s cancelled for project %d\n", feature.Label(), id)
				return nil
			})
		},
	}

	return []*cobra.Command{startCmd, statusCmd, cancelCmd}
}

func renderJobTable(jobs []workflow.JobStatus, colorize bool) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		progress := strconv.Itoa(job.Progress) + "%"
		if job.Estimated && job.Status == store.StatusProcessing {
			progress = "~" + progress
		}
		message := job.Message
		if job.Error != "" && job.Error != job.Message {
			message = job.Error
		}
		rows = append(rows, []string{
			job.Feature.Label(),
			colorizeStatus(job.Status, job.Stale, colorize),
			progress,
			orDash(message),
		})
	}
	return renderTable(
		[]string{"Feature", "Status", "Progress", "Message"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	)
}
