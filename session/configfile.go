package session

import (
	"io"
	"os"

	"gopkg.in/yaml.v1"
)

// LoadConfig reads a YAML config file and overlays it on top of
// DefaultConfig, so a config file only needs to set the fields it wants to
// change.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return parseConfig(f)
}

func parseConfig(r io.Reader) (Config, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return Config{}, err
	}
	c := DefaultConfig
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, err
	}
	return c, nil
}
