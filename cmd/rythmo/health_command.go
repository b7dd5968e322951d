package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"rythmo/internal/api"
	"rythmo/internal/daemonctl"
	"rythmo/internal/deps"
	"rythmo/internal/preflight"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show pipeline, tool and directory readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				health, err := client.Health(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, health)
				}
				stdout := cmd.OutOrStdout()
				for _, line := range healthLines(health, shouldColorize(stdout)) {
					fmt.Fprintln(stdout, line)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw health payload")
	return cmd
}

func healthLines(health api.HealthResponse, colorize bool) []string {
	var lines []string
	overall := statusOK
	if !health.Healthy() {
		overall = statusWarn
	}
	lines = append(lines, renderSectionHeader("System Status", colorize)...)
	lines = append(lines, renderStatusLine("Rythmo", overall, health.Status, colorize))
	lines = append(lines, renderStatusLine("Running jobs", statusInfo, fmt.Sprintf("%d", health.Running), colorize))
	lines = append(lines, "")

	lines = append(lines, renderSectionHeader("Pipelines", colorize)...)
	for _, p := range health.Pipelines {
		kind := statusOK
		if !p.Ready {
			kind = statusError
			if p.Detail == "" {
				p.Detail = "not ready"
			}
		}
		lines = append(lines, renderStatusLine(p.Name, kind, p.Detail, colorize))
	}
	lines = append(lines, "")

	lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
	lines = append(lines, dependencyLines(health.Dependencies, colorize)...)
	lines = append(lines, "")

	lines = append(lines, renderSectionHeader("Directories", colorize)...)
	lines = append(lines, checkLines(health.Checks, colorize)...)
	return lines
}

func dependencyLines(statuses []deps.Status, colorize bool) []string {
	summary := daemonctl.BuildDependencySummary(statuses)
	lines := make([]string, 0, len(statuses)+2)
	lines = append(lines, renderStatusLine("Summary", statusKindFromSeverity(summary.Severity), summary.Detail, colorize))
	missing := make([]string, 0)
	for _, dep := range statuses {
		if dep.Available {
			message := "Ready"
			if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}

		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
		missing = append(missing, dep.Name)
	}
	if len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing dependencies", statusWarn, strings.Join(missing, ", "), colorize))
	}
	return lines
}

func checkLines(checks []preflight.Result, colorize bool) []string {
	lines := make([]string, 0, len(checks))
	for _, check := range checks {
		kind := statusOK
		switch {
		case check.Passed:
		case check.Optional:
			kind = statusWarn
		default:
			kind = statusError
		}
		lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
	return lines
}

func statusKindFromSeverity(severity string) statusKind {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "ok":
		return statusOK
	case "warn", "warning":
		return statusWarn
	case "error", "failed":
		return statusError
	default:
		return statusInfo
	}
}
