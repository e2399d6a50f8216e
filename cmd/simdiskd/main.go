// Command simdiskd serves the simulated disk over the control protocol.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"simdisk/internal/config"
	"simdisk/internal/server"
)

func main() {
	var vip *viper.Viper

	cmd := &cobra.Command{
		Use:   "simdiskd",
		Short: "simdiskd serves a simulated disk image over TCP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(vip)
		},
	}

	v, err := config.BindServerFlags(cmd.Flags())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	vip = v

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(vip *viper.Viper) error {
	cfg, err := config.LoadServer(vip)
	if err != nil {
		return err
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	srv, err := server.New(cfg, log)
	if err != nil {
		return err
	}
	log.Info("listening", "addr", srv.Addr().String(), "disk", cfg.DiskPath, "sync-policy", cfg.SyncPolicy)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}
