package config

import (
	"errors"
	"os"
	"path/filepath"
)

// EnsureUserConfig puts an editable config in the data dir on first run by
// copying the shipped default there. An existing user copy is never touched,
// so upgrades do not clobber edits.
func EnsureUserConfig(dataDir, defaultPath string) (string, error) {
	userPath := filepath.Join(dataDir, "config.yml")

	if _, err := os.Stat(userPath); err == nil {
		return userPath, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	def, err := os.ReadFile(defaultPath)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(userPath, def, 0o644); err != nil {
		return "", err
	}
	return userPath, nil
}
