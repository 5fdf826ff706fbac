package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"TlockAuction/internal/logger"
	"TlockAuction/internal/state"
	"TlockAuction/internal/storage"
)

func newExportCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every stored auction to a compressed archive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(s *state.Store) error {
				archive, err := s.Export()
				if err != nil {
					return err
				}

				if err := os.WriteFile(out, archive, 0600); err != nil {
					return fmt.Errorf("write archive:\n%w", err)
				}

				logger.Info("archive written", "path", out, "bytes", len(archive))

				return nil
			})
		},
	}

	cmd.Flags().String("data", "", "data directory path")
	cmd.Flags().StringVarP(&out, "out", "o", "auctions.tlock", "archive path")

	return cmd
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <archive>",
		Short: "Replace the stored auctions with an archive's content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read archive:\n%w", err)
			}

			return withStore(cmd, func(s *state.Store) error {
				n, err := s.Import(archive)
				if err != nil {
					return err
				}

				fmt.Printf("imported %d auctions\n", n)

				return nil
			})
		},
	}

	cmd.Flags().String("data", "", "data directory path")

	return cmd
}

// withStore opens the node's database for an offline command.
func withStore(cmd *cobra.Command, fn func(*state.Store) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := storage.Open(cfg.Node.DataPath, storage.Options{CacheSize: cfg.Node.CacheSize})
	if err != nil {
		return fmt.Errorf("open storage:\n%w", err)
	}
	defer db.Close()

	if err := fn(state.NewStore(db)); err != nil {
		return err
	}

	return db.Sync()
}
