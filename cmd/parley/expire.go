package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrelworks/parley/internal/config"
	"github.com/kestrelworks/parley/internal/db"
	"github.com/kestrelworks/parley/internal/session"
)

func newExpireCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Run one expiry sweep against the session store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExpire(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml", "path to Parley config file")
	return cmd
}

func runExpire(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return err
	}

	store, err := session.NewStore(gormDB)
	if err != nil {
		return err
	}
	svc, err := session.NewService(session.ServiceOpts{Store: store})
	if err != nil {
		return err
	}
	sched, err := session.NewScheduler(session.SchedulerOpts{Service: svc})
	if err != nil {
		return err
	}

	n, err := sched.Sweep()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Expired %d sessions\n", n)
	return nil
}
