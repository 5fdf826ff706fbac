package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"TlockAuction/internal/logger"
)

func newBeaconCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "beacon",
		Short: "Publish slot secrets over QUIC",
		RunE:  runBeacon,
	}

	f := cmd.Flags()
	f.String("listen", "", "QUIC listen address")
	f.String("key", "", "Ed25519 node key path (generated if missing)")
	f.String("master", "", "master secret path")
	f.Int64("genesis", 0, "unix time of slot 0")
	f.String("slot-duration", "", "slot duration")

	return cmd
}

func runBeacon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The beacon command reads its node key from node.key_path unless beacon.key_path is set.
	keyPath := cfg.Beacon.KeyPath
	if keyPath == "" {
		keyPath = cfg.Node.KeyPath
	}

	key, err := loadOrGenerateKey(keyPath)
	if err != nil {
		return err
	}

	b, err := newBeacon(cfg)
	if err != nil {
		return err
	}

	node, err := serveBeacon(ctx, b, key, cfg.Beacon.ListenAddr)
	if err != nil {
		return err
	}
	defer node.Close()

	<-ctx.Done()
	logger.Info("shutting down")

	return nil
}
