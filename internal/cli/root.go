// Package cli implements the bot's command line.
package cli

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"bunny-chatter/internal/config"
	"bunny-chatter/internal/logging"
)

var (
	envFile  string
	logLevel string

	// loaded before every command
	cfg *config.Config
	log *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Bunny, a playful Telegram chat companion",
		Long:  "Bunny answers Telegram messages through an LLM and remembers every conversation across restarts.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envErr := godotenv.Load(envFile)

			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			log = logging.NewFromFormat(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)
			if envErr != nil {
				log.Warn().Err(envErr).Str("path", envFile).Msg(".env file not loaded")
			}
			return cfg.Validate()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, silent); overrides LOG_LEVEL")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
