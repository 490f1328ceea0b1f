package main

import (
	"fmt"
	"os"

	"draftreview/internal/config"
	"draftreview/internal/database"
	"draftreview/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// @title           Draft Review API
// @version         1.0
// @description     AI-drafted legal documents routed through human review.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @securityDefinitions.apikey ServiceKey
// @in header
// @name X-Service-Key
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	cfg *config.Config
	log *zap.Logger
	db  *gorm.DB
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "api",
		Short:         "Draft review service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "configs/.env", "dotenv file loaded before reading the environment")

	load := func() (*app, error) {
		cfg, err := config.Load(envFile)
		if err != nil {
			return nil, err
		}
		log, err := logger.New(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
		return &app{cfg: cfg, log: log}, nil
	}

	connect := func() (*app, error) {
		a, err := load()
		if err != nil {
			return nil, err
		}
		a.db, err = database.NewConnection(a.cfg.Database.DSN(), a.cfg.Database.MaxOpenConns)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		a.log.Info("connected to PostgreSQL", zap.String("host", a.cfg.Database.Host), zap.String("database", a.cfg.Database.Name))
		return a, nil
	}

	serve := newServeCmd(connect)
	root.AddCommand(serve, newMigrateCmd(connect), newRequeueCmd(connect), newTokenCmd(load))
	// Running the binary without a subcommand serves.
	root.RunE = serve.RunE
	return root
}

func (a *app) close() {
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	_ = a.log.Sync()
}
