package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"duck-bi/internal/app"
	"duck-bi/internal/config"
	internaldb "duck-bi/internal/db"
)

// appOpener builds the wired application for a command. The returned
// function releases it.
type appOpener func(ctx context.Context, envFile string) (*app.App, func(), error)

// openApp loads configuration from the environment, opens and migrates the
// metastore and wires the application.
func openApp(ctx context.Context, envFile string) (*app.App, func(), error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	logger := app.NewLogger(cfg, os.Stderr)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	metaDB, err := internaldb.OpenSQLite(cfg.MetaDBPath, internaldb.ModeWrite, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open metastore: %w", err)
	}
	if err := internaldb.RunMigrations(ctx, metaDB); err != nil {
		_ = metaDB.Close()
		return nil, nil, fmt.Errorf("migrate metastore: %w", err)
	}

	a, err := app.New(ctx, app.Deps{Cfg: cfg, MetaDB: metaDB, Logger: logger})
	if err != nil {
		_ = metaDB.Close()
		return nil, nil, err
	}
	release := func() {
		if err := a.Close(); err != nil {
			logger.Warn("close backends", "error", err)
		}
		_ = metaDB.Close()
	}
	return a, release, nil
}

// withApp opens the application for the duration of fn.
func withApp(cmd *cobra.Command, open appOpener, fn func(ctx context.Context, a *app.App) error) error {
	envFile, _ := cmd.Root().PersistentFlags().GetString("env-file")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, release, err := open(ctx, envFile)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, a)
}
