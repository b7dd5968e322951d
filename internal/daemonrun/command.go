package daemonrun

import (
	"strings"

	"github.com/spf13/cobra"

	"rythmo/internal/config"
)

// NewCommand builds the foreground daemon command shared by `rythmo serve`
// and rythmod. loadConfig runs when the command executes.
func NewCommand(use string, loadConfig func() (*config.Config, error)) *cobra.Command {
	var logLevel string
	var development bool
	cmd := &cobra.Command{
		Use:   use,
		Short: "Run the rythmo daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return Run(cmd.Context(), cfg, Options{
				LogLevel:    strings.TrimSpace(logLevel),
				Development: development,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log output")
	return cmd
}
