package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lucadibello/RimeSegateBot/internal/config"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

type options struct {
	configPath string
	envFile    string
	initOnly   bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "rimesegate",
		Short:         "Telegram bot that downloads media, publishes it and prepares its thumbnail",
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(opts.envFile); err != nil {
				return err
			}

			if opts.initOnly {
				if err := config.WriteDefault(opts.configPath); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", opts.configPath)
				return nil
			}

			if opts.configPath != "" {
				created, err := config.EnsureFile(opts.configPath)
				if err != nil {
					return err
				}
				if created && os.Getenv("TELEGRAM_TOKEN") == "" {
					fmt.Fprintf(cmd.OutOrStdout(),
						"Created %s with default values. Set telegram.token and start again.\n", opts.configPath)
					return nil
				}
			}

			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the configuration")
	cmd.Flags().BoolVar(&opts.initOnly, "init", false, "write a default configuration file and exit")

	return cmd
}

// loadEnvFile loads path into the environment. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}
