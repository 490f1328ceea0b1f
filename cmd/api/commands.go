package main

import (
	"fmt"
	"time"

	"draftreview/internal/database"
	"draftreview/internal/middleware"
	"draftreview/internal/model"
	"draftreview/internal/repository"
	"draftreview/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd(connect func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := connect()
			if err != nil {
				return err
			}
			defer a.close()

			if err := database.Migrate(a.db); err != nil {
				return err
			}
			a.log.Info("migrations applied")
			return nil
		},
	}
}

func newRequeueCmd(connect func() (*app, error)) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "requeue",
		Short: "Reconcile reviewer counters and assign held tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := connect()
			if err != nil {
				return err
			}
			defer a.close()

			tasks := repository.NewTaskRepository(a.db)
			txManager := repository.NewTransactionManager(a.db)
			workloads := service.NewWorkloadRegistry(repository.NewWorkloadRepository(a.db), tasks, txManager, a.cfg.Assignment.MaxAttempts, nil, a.log)
			reviews := service.NewReviewService(service.ReviewServiceDeps{
				Tasks:     tasks,
				Logs:      repository.NewReviewLogRepository(a.db),
				TxManager: txManager,
				Workloads: workloads,
				Policy:    a.cfg.Assignment.NoReviewerPolicy,
				Logger:    a.log,
			})

			reconciled, err := workloads.ReconcileAll(cmd.Context())
			if err != nil {
				return err
			}
			res, err := reviews.RequeueUnassigned(cmd.Context(), limit)
			if err != nil {
				return err
			}
			a.log.Info("requeue finished",
				zap.Int("reconciled", reconciled),
				zap.Int("scanned", res.Scanned),
				zap.Int("assigned", res.Assigned),
				zap.Int("skipped", res.Skipped),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "assigned %d of %d held tasks\n", res.Assigned, res.Scanned)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of held tasks to assign")
	return cmd
}

// newTokenCmd mints a JWT for local testing.
func newTokenCmd(load func() (*app, error)) *cobra.Command {
	var (
		sub  string
		role string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.close()

			token, err := middleware.NewAuth(a.cfg.JWTSecret(), "").IssueToken(model.Actor{ID: sub, Role: role}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "", "actor id")
	cmd.Flags().StringVar(&role, "role", model.RoleReviewer, "actor role")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}
