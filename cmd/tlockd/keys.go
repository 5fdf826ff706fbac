package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"TlockAuction/internal/ibe"
	"TlockAuction/internal/logger"
)

// loadOrGenerateKey returns the node key stored at keyPath, creating the file
// on first use. An empty path yields an ephemeral key.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	data, err := loadOrCreate(keyPath, ed25519.PrivateKeySize, func() ([]byte, error) {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		return priv, err
	})
	if err != nil {
		return nil, fmt.Errorf("node key:\n%w", err)
	}

	return ed25519.PrivateKey(data), nil
}

// loadOrCreate reads a fixed-size secret from path or writes a fresh one.
func loadOrCreate(path string, size int, generate func() ([]byte, error)) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if len(data) != size {
				return nil, fmt.Errorf("%s holds %d bytes, want %d", path, len(data), size)
			}
			return data, nil
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("read %s:\n%w", path, err)
		}
	}

	data, err := generate()
	if err != nil {
		return nil, fmt.Errorf("generate:\n%w", err)
	}

	if path == "" {
		return data, nil
	}

	if err := writeNew(path, data); err != nil {
		return nil, err
	}

	logger.Info("created key file", "path", path)

	return data, nil
}

// loadMaster reads the beacon master secret.
func loadMaster(path string) (*ibe.MasterSecret, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read master secret:\n%w", err)
	}

	msk, err := ibe.ParseMasterSecret(data)
	if err != nil {
		return nil, fmt.Errorf("parse master secret %s:\n%w", path, err)
	}

	return msk, nil
}
