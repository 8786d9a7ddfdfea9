// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"VAULTPACK_REPOSITORY", "VAULTPACK_CACHE_DIR", "VAULTPACK_KEY_FILE",
		"VAULTPACK_PASSPHRASE", "VAULTPACK_SCRYPT_N", "VAULTPACK_SCRYPT_R",
		"VAULTPACK_SCRYPT_P", "VAULTPACK_COMPRESS", "VAULTPACK_PACK_TARGET_SIZE",
		"VAULTPACK_PACK_SIZE_LIMIT", "VAULTPACK_PACK_HARD_CAP", "VAULTPACK_LOG_LEVEL",
		"VAULTPACK_KEEP_PACK", "VAULTPACK_KEEP_DELETE",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ScryptN != defaultScryptN {
		t.Errorf("ScryptN = %d, want %d", cfg.ScryptN, defaultScryptN)
	}
	if cfg.PackTargetSize != defaultPackTargetSize {
		t.Errorf("PackTargetSize = %d, want %d", cfg.PackTargetSize, defaultPackTargetSize)
	}
	if !cfg.CompressData {
		t.Errorf("CompressData = false, want true by default")
	}
	if cfg.KeyFile == "" {
		t.Errorf("KeyFile should default to <repo>/key, got empty")
	}
}

func TestLoadRejectsNonPowerOfTwoScryptN(t *testing.T) {
	clearEnv(t)
	t.Setenv("VAULTPACK_SCRYPT_N", "12345")
	if _, err := Load(); err == nil {
		t.Fatalf("expected an error for a non-power-of-two VAULTPACK_SCRYPT_N")
	}
}

func TestLoadRejectsTargetSizeAboveLimit(t *testing.T) {
	clearEnv(t)
	t.Setenv("VAULTPACK_PACK_TARGET_SIZE", "1000")
	t.Setenv("VAULTPACK_PACK_SIZE_LIMIT", "500")
	if _, err := Load(); err == nil {
		t.Fatalf("expected an error when target size exceeds the size limit")
	}
}

func TestLoadHonorsOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("VAULTPACK_REPOSITORY", t.TempDir())
	t.Setenv("VAULTPACK_COMPRESS", "false")
	t.Setenv("VAULTPACK_KEEP_PACK", "30m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.CompressData {
		t.Errorf("CompressData = true, want false from VAULTPACK_COMPRESS=false")
	}
	if cfg.KeepPack.String() != "30m0s" {
		t.Errorf("KeepPack = %s, want 30m0s", cfg.KeepPack)
	}
}
