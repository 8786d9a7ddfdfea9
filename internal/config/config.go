// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package config loads runtime configuration for the pieces that sit
// around the storage core — cmd/vaultpack-fixtures and integration
// tests that want repository-root overrides — from environment
// variables, the way the teacher's gateway config.go does it. Core
// packages (backend, pack, index, packer, tree, snapshot, archiver,
// restore, retention, prune) never import this package; they take
// already-resolved values (paths, a crypto.Key, pack size numbers)
// from their callers.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures the environment-sourced knobs the fixture command
// and tests need to stand up a repository: where it lives, how its
// key material is wrapped, and the default pack-sizing and
// compression behavior new packers are built with.
type Config struct {
	RepositoryPath string
	CacheDir       string

	KeyFile    string
	Passphrase string

	ScryptN int
	ScryptR int
	ScryptP int

	CompressData bool

	PackTargetSize int64
	PackSizeLimit  int64
	PackHardCap    int64

	LogLevel string

	KeepPack   time.Duration
	KeepDelete time.Duration
}

const (
	defaultRepositoryPath = "./repo"
	defaultKeyFileName    = "key"
	defaultScryptN        = 1 << 15 // 32768, restic's default cost
	defaultScryptR        = 8
	defaultScryptP        = 1
	defaultPackTargetSize = 4 << 20  // 4 MiB
	defaultPackSizeLimit  = 16 << 20 // 16 MiB
	defaultPackHardCap    = 32 << 20 // 32 MiB
	defaultLogLevel       = "info"
	defaultKeepPack       = time.Hour
	defaultKeepDelete     = 2 * time.Hour
)

// Load reads configuration from environment variables, applying a
// best-effort .env overlay first so `go run ./cmd/vaultpack-fixtures`
// and tests invoked from a subpackage both pick up the same file
// without the caller having to `source` it manually.
func Load() (Config, error) {
	_ = godotenv.Load(".env", "../.env", "../../.env")

	cfg := Config{
		RepositoryPath: firstNonEmpty(os.Getenv("VAULTPACK_REPOSITORY"), defaultRepositoryPath),
		CacheDir:       strings.TrimSpace(os.Getenv("VAULTPACK_CACHE_DIR")),
		Passphrase:     os.Getenv("VAULTPACK_PASSPHRASE"),
		CompressData:   true,
		LogLevel:       firstNonEmpty(os.Getenv("VAULTPACK_LOG_LEVEL"), defaultLogLevel),
		ScryptN:        defaultScryptN,
		ScryptR:        defaultScryptR,
		ScryptP:        defaultScryptP,
		PackTargetSize: defaultPackTargetSize,
		PackSizeLimit:  defaultPackSizeLimit,
		PackHardCap:    defaultPackHardCap,
		KeepPack:       defaultKeepPack,
		KeepDelete:     defaultKeepDelete,
	}

	if raw := strings.TrimSpace(os.Getenv("VAULTPACK_COMPRESS")); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid VAULTPACK_COMPRESS: %w", err)
		}
		cfg.CompressData = b
	}

	var err error
	if cfg.ScryptN, err = parseIntEnv("VAULTPACK_SCRYPT_N", cfg.ScryptN); err != nil {
		return Config{}, err
	}
	if cfg.ScryptR, err = parseIntEnv("VAULTPACK_SCRYPT_R", cfg.ScryptR); err != nil {
		return Config{}, err
	}
	if cfg.ScryptP, err = parseIntEnv("VAULTPACK_SCRYPT_P", cfg.ScryptP); err != nil {
		return Config{}, err
	}

	if cfg.PackTargetSize, err = parseInt64Env("VAULTPACK_PACK_TARGET_SIZE", cfg.PackTargetSize); err != nil {
		return Config{}, err
	}
	if cfg.PackSizeLimit, err = parseInt64Env("VAULTPACK_PACK_SIZE_LIMIT", cfg.PackSizeLimit); err != nil {
		return Config{}, err
	}
	if cfg.PackHardCap, err = parseInt64Env("VAULTPACK_PACK_HARD_CAP", cfg.PackHardCap); err != nil {
		return Config{}, err
	}

	if raw := strings.TrimSpace(os.Getenv("VAULTPACK_KEEP_PACK")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid VAULTPACK_KEEP_PACK: %w", err)
		}
		cfg.KeepPack = d
	}
	if raw := strings.TrimSpace(os.Getenv("VAULTPACK_KEEP_DELETE")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid VAULTPACK_KEEP_DELETE: %w", err)
		}
		cfg.KeepDelete = d
	}

	cfg.KeyFile = firstNonEmpty(os.Getenv("VAULTPACK_KEY_FILE"), filepath.Join(cfg.RepositoryPath, defaultKeyFileName))

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if abs, err := filepath.Abs(cfg.RepositoryPath); err == nil {
		cfg.RepositoryPath = abs
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	if c.RepositoryPath == "" {
		missing = append(missing, "VAULTPACK_REPOSITORY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if c.ScryptN <= 1 || c.ScryptN&(c.ScryptN-1) != 0 {
		return fmt.Errorf("invalid VAULTPACK_SCRYPT_N: must be a power of two greater than 1")
	}
	if c.PackSizeLimit > 0 && c.PackTargetSize > c.PackSizeLimit {
		return fmt.Errorf("VAULTPACK_PACK_TARGET_SIZE (%d) exceeds VAULTPACK_PACK_SIZE_LIMIT (%d)", c.PackTargetSize, c.PackSizeLimit)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseIntEnv(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func parseInt64Env(key string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
