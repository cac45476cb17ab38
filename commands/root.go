// Package commands holds the medchat command line: the HTTP server and the
// tools that drive the answer pipeline from a terminal.
package commands

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"medchat-backend/config"
	"medchat-backend/conn"
	"medchat-backend/logger"
	"medchat-backend/messages"
	"medchat-backend/migrations"
)

// app is what every subcommand gets after the root has loaded settings.
type app struct {
	cfg config.Config
	log *zap.Logger
}

func NewRootCmd() *cobra.Command {
	a := &app{}
	var envFiles []string

	root := &cobra.Command{
		Use:           "medchat",
		Short:         "Medical question answering relay and stream tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFiles...)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logger.New(logger.Options{Level: cfg.LogLevel, Production: cfg.Production(), File: cfg.LogFile})
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load before reading the environment")

	root.AddCommand(
		newServeCmd(a),
		newAskCmd(a),
		newReplayCmd(a),
		newMigrateCmd(a),
	)
	return root
}

// Execute runs the command line against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// openStore returns the message store for the configured environment and a
// close func. Guests always use files under DATA_DIR; signed-in users use
// MySQL when a database is configured.
func (a *app) openStore(ctx context.Context) (messages.Store, func(), error) {
	store := &messages.Unified{Guests: messages.NewFileStore(filepath.Join(a.cfg.DataDir, "chats"))}
	if !a.cfg.DB.Configured() {
		a.log.Info("no database configured, storing all chats on disk", zap.String("dir", a.cfg.DataDir))
		return store, func() {}, nil
	}
	db, err := a.openDB(ctx)
	if err != nil {
		return nil, nil, err
	}
	store.Users = messages.NewMySQLStore(db)
	return store, func() { db.Close() }, nil
}

func (a *app) openDB(ctx context.Context) (*sql.DB, error) {
	db, err := conn.NewMySQL(ctx, a.cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrations.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the chat tables in the configured MySQL database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.DB.Configured() {
				return fmt.Errorf("DB_HOST and DB_NAME must be set")
			}
			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			a.log.Info("migrations applied", zap.String("database", a.cfg.DB.Name))
			return nil
		},
	}
}
