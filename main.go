package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/peternagy/espal/internal/config"
	"github.com/peternagy/espal/internal/credential"
	"github.com/peternagy/espal/internal/debug"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "espal",
		Short:         "Elasticsearch admin console backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to espal.yaml")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	secrets := &cobra.Command{
		Use:   "secrets",
		Short: "Manage stored connection secrets",
	}
	secrets.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Encrypt stored plaintext passwords",
		Long: `Encrypt stored plaintext passwords.

Profiles saved by older versions may hold passwords in plaintext. This
command re-encrypts them under the current key. Already encrypted
passwords are left untouched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, configPath)
		},
	})
	secrets.AddCommand(&cobra.Command{
		Use:   "forget-key",
		Short: "Remove the encryption key from the OS keyring",
		Long: `Remove the encryption key from the OS keyring.

Passwords encrypted under the removed key can no longer be decrypted and
must be re-entered.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := credential.ForgetSecret(); err != nil {
				return fmt.Errorf("removing keyring secret: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "keyring secret removed")
			return nil
		},
	})

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "espal version %s\n", version)
		},
	}

	root.AddCommand(serve, secrets, versionCmd)
	return root
}

// bootstrap loads configuration and installs the global logger.
func bootstrap(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := debug.New(debug.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}
	debug.Init(logger)
	return cfg, nil
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	defer debug.Sync()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(cfg)
	if err != nil {
		return err
	}
	return app.Serve(ctx)
}

func runMigrate(cmd *cobra.Command, configPath string) error {
	cfg, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	defer debug.Sync()

	app, err := NewApp(cfg)
	if err != nil {
		return err
	}
	defer app.shutdown()

	n, err := app.MigrateSecrets(cmd.Context())
	if err != nil {
		return fmt.Errorf("migrating passwords: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "encrypted %d stored password(s)\n", n)
	return nil
}
