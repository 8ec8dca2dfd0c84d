package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"
)

// ReadConfig reads the UserConfig stored in the TOML file at path. Keys absent
// from the file keep the values of DefaultConfig. If the file does not exist,
// it is created with the default configuration.
func ReadConfig(path string) (UserConfig, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return c, fmt.Errorf("read config: %w", err)
		}
		if err := WriteConfig(path, c); err != nil {
			return c, err
		}
		return c, nil
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

// WriteConfig encodes c as TOML and writes it to the file at path, creating its
// parent directory if needed.
func WriteConfig(path string, c UserConfig) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
