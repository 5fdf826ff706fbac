package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"TlockAuction/internal/ibe"
)

func newKeygenCmd() *cobra.Command {
	var (
		masterPath string
		keyPath    string
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a beacon master secret and a node key",
		RunE: func(*cobra.Command, []string) error {
			if masterPath != "" {
				pp, msk, err := ibe.Setup(rand.Reader)
				if err != nil {
					return fmt.Errorf("setup:\n%w", err)
				}

				if err := writeNew(masterPath, msk.Bytes()); err != nil {
					return err
				}

				fmt.Printf("master secret: %s\n", masterPath)
				fmt.Printf("public params: %s\n", hex.EncodeToString(pp.Bytes()))
			}

			if keyPath != "" {
				_, priv, err := ed25519.GenerateKey(rand.Reader)
				if err != nil {
					return fmt.Errorf("generate key:\n%w", err)
				}

				if err := writeNew(keyPath, priv); err != nil {
					return err
				}

				fmt.Printf("node key:      %s\n", keyPath)
				fmt.Printf("node pubkey:   %s\n", hex.EncodeToString(priv.Public().(ed25519.PublicKey)))
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&masterPath, "master", "", "write a new master secret to this path")
	cmd.Flags().StringVar(&keyPath, "key", "", "write a new Ed25519 node key to this path")
	cmd.MarkFlagsOneRequired("master", "key")

	return cmd
}

// writeNew writes data to a file that must not exist yet.
func writeNew(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("create %s:\n%w", path, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s:\n%w", path, err)
	}

	return f.Close()
}
