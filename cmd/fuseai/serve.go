package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aircode610/fuseai"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := fuseai.LoadConfig(configPath)
			if err != nil {
				return err
			}
			log := fuseai.NewLogger()
			orch, err := fuseai.New(cfg, log)
			if err != nil {
				return err
			}
			if err := orch.Start(cmd.Context()); err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			orch.Shutdown(ctx)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to TOML config file")
	return cmd
}
