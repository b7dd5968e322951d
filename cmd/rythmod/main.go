package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"rythmo/internal/config"
	"rythmo/internal/daemonrun"
)

func main() {
	// daemonrun installs the SIGINT/SIGTERM handler.
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "rythmod: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	cmd := daemonrun.NewCommand("rythmod", func() (*config.Config, error) {
		cfg, _, _, err := config.Load(strings.TrimSpace(configPath))
		return cfg, err
	})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	return cmd
}
