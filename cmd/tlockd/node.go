package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"TlockAuction/internal/api"
	"TlockAuction/internal/auction"
	"TlockAuction/internal/beacon"
	"TlockAuction/internal/house"
	"TlockAuction/internal/ledger"
	"TlockAuction/internal/logger"
	"TlockAuction/internal/network"
	"TlockAuction/internal/slotclock"
	"TlockAuction/internal/state"
	"TlockAuction/internal/storage"
)

func newNodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run the auction HTTP API",
		RunE:  runNode,
	}

	f := cmd.Flags()
	f.String("data", "", "data directory path")
	f.String("http", "", "HTTP API address")
	f.String("key", "", "Ed25519 node key path (generated if missing)")
	f.String("clock", "", "slot clock: local or remote")
	f.String("beacon", "", "beacon QUIC address for the remote clock")
	f.String("public-params", "", "hex public params pinning the remote beacon")
	f.String("master", "", "beacon master secret path for the local clock")
	f.Int64("genesis", 0, "unix time of slot 0 for the local clock")
	f.String("slot-duration", "", "slot duration for the local clock")
	f.String("listen", "", "also serve the local beacon over QUIC on this address")

	return cmd
}

func runNode(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	key, err := loadOrGenerateKey(cfg.Node.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	db, err := storage.Open(cfg.Node.DataPath, storage.Options{
		SyncInterval: cfg.Node.SyncInterval,
		CacheSize:    cfg.Node.CacheSize,
	})
	if err != nil {
		return fmt.Errorf("open storage:\n%w", err)
	}
	defer db.Close()

	clock, closeClock, err := openClock(ctx, cfg, key)
	if err != nil {
		return err
	}
	defer closeClock()

	recorder, err := ledger.NewRecorder(db)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	h, err := house.New(house.Config{
		Clock:    clock,
		Ledger:   recorder,
		Store:    state.NewStore(db),
		Registry: reg,
	})
	if err != nil {
		return fmt.Errorf("create house:\n%w", err)
	}

	srv := api.New(cfg.Node.HTTPAddress, h, reg)
	if err := srv.Start(); err != nil {
		return err
	}

	logger.Info("starting tlockd node",
		"version", auction.Version,
		"pubkey", hex.EncodeToString(key.Public().(ed25519.PublicKey)),
		"http", cfg.Node.HTTPAddress,
		"data", cfg.Node.DataPath,
		"clock", cfg.Clock.Mode,
		"auctions", len(h.List()),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	return srv.Stop()
}

// openClock builds the node's slot clock. The returned func releases it.
func openClock(ctx context.Context, cfg *Config, key ed25519.PrivateKey) (house.Clock, func(), error) {
	if cfg.Clock.Mode == "remote" {
		var pinned []byte
		if cfg.Clock.PublicParams != "" {
			var err error
			if pinned, err = hex.DecodeString(cfg.Clock.PublicParams); err != nil {
				return nil, nil, fmt.Errorf("decode clock.public_params:\n%w", err)
			}
		}

		remote, err := slotclock.DialRemote(ctx, slotclock.RemoteConfig{
			Addr:         cfg.Clock.BeaconAddr,
			Key:          key,
			PublicParams: pinned,
			Timeout:      cfg.Clock.Timeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("dial beacon %s:\n%w", cfg.Clock.BeaconAddr, err)
		}

		return remote, func() { remote.Close() }, nil
	}

	b, err := newBeacon(cfg)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Beacon.ListenAddr == "" {
		return b, func() {}, nil
	}

	// Serve the in-process beacon so other nodes can use it as a remote clock.
	node, err := serveBeacon(ctx, b, key, cfg.Beacon.ListenAddr)
	if err != nil {
		return nil, nil, err
	}

	return b, func() { node.Close() }, nil
}

// newBeacon builds the wall-clock beacon from config.
func newBeacon(cfg *Config) (*beacon.Beacon, error) {
	msk, err := loadMaster(cfg.Beacon.MasterPath)
	if err != nil {
		return nil, err
	}

	return beacon.New(beacon.Config{
		Genesis:      cfg.Beacon.Genesis(),
		SlotDuration: cfg.Beacon.SlotDuration,
		Master:       msk,
	})
}

// serveBeacon listens on addr and announces slot secrets until ctx ends.
func serveBeacon(ctx context.Context, b *beacon.Beacon, key ed25519.PrivateKey, addr string) (*network.Node, error) {
	node, err := network.NewNode(network.Config{Key: key, ListenAddr: addr})
	if err != nil {
		return nil, fmt.Errorf("create network node:\n%w", err)
	}

	srv := beacon.NewServer(b, node)

	if err := node.Listen(); err != nil {
		node.Close()
		return nil, fmt.Errorf("listen %s:\n%w", addr, err)
	}

	go func() {
		if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("beacon stopped", "error", err)
		}
	}()

	logger.Info("beacon serving",
		"addr", node.Addr(),
		"params", hex.EncodeToString(b.PublicParams().Bytes()),
		"slot_duration", b.SlotDuration(),
	)

	return node, nil
}
