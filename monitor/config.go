package monitor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// IndexConfig describes one tracked problem set: where its slug list
// lives and where its engagement log accumulates.
type IndexConfig struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	InputFile  string `yaml:"input_file"`
	OutputFile string `yaml:"output_file"`

	// Mode selects the statistic to collect: "stats" (default) or "users".
	Mode Mode `yaml:"mode"`
}

type FileConfig struct {
	Indices []IndexConfig `yaml:"indices"`
}

func LoadConfig(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	for i := range cfg.Indices {
		switch cfg.Indices[i].Mode {
		case "":
			cfg.Indices[i].Mode = ModeStats
		case ModeStats, ModeUsers:
		default:
			return nil, fmt.Errorf("index %q: unknown mode %q", cfg.Indices[i].ID, cfg.Indices[i].Mode)
		}
	}
	return &cfg, nil
}
