package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"rythmo/internal/api"
)

func newProjectCommand(ctx *commandContext) *cobra.Command {
	projectCmd := &cobra.Command{
		Use:   "project",
		Short: "Create and inspect projects",
	}

	var videoPath string
	var lines int
	var asJSON bool
	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Register a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return errors.New("project name is required")
			}
			return ctx.withClient(func(client *api.Client) error {
				project, err := client.CreateProject(cmd.Context(), api.CreateProjectRequest{
					Name:             name,
					VideoPath:        strings.TrimSpace(videoPath),
					RythmoLinesCount: lines,
				})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, project)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created project %d (%s)\n", project.ID, project.Name)
				return nil
			})
		},
	}
	createCmd.Flags().StringVar(&videoPath, "video", "", "Video file, absolute or relative to paths.video_dir")
	createCmd.Flags().IntVar(&lines, "lines", 0, "Number of rythmo lines (default 1)")
	createCmd.Flags().BoolVar(&asJSON, "json", false, "Print the created project as JSON")

	var showJSON bool
	showCmd := &cobra.Command{
		Use:   "show <project>",
		Short: "Show a project with its record counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProjectID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				project, err := client.Project(cmd.Context(), id)
				if err != nil {
					return err
				}
				if showJSON {
					return writeJSON(cmd, project)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, projectRows(project), nil))
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			})
		},
	}
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print the project as JSON")

	projectCmd.AddCommand(createCmd, showCmd)
	return projectCmd
}

func projectRows(p api.Project) [][]string {
	rows := [][]string{
		{"ID", strconv.FormatInt(p.ID, 10)},
		{"Name", p.Name},
		{"Video", orDash(p.VideoPath)},
		{"Rythmo lines", strconv.Itoa(p.RythmoLinesCount)},
		{"Scene changes", strconv.Itoa(p.SceneChanges)},
		{"Timecodes", strconv.Itoa(p.Timecodes)},
		{"Characters", strconv.Itoa(p.Characters)},
		{"Detected language", orDash(p.DetectedLanguage)},
		{"Source language", orDash(p.SourceLanguage)},
		{"Target language", orDash(p.TargetLanguage)},
		{"Instrumental", orDash(p.InstrumentalPath)},
		{"Created", orDash(p.CreatedAt)},
		{"Updated", orDash(p.UpdatedAt)},
	}
	return rows
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
