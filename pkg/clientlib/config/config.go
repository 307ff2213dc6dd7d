// Package config decodes the client's TOML configuration (spec.md
// §6.3): which hub to sync from, which datasets to mirror, and where
// to stage and store them locally.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/datahubsync/datahubsync/pkg/clientlib/retry"
	"github.com/datahubsync/datahubsync/pkg/configutil"
	"github.com/datahubsync/datahubsync/pkg/hublib"
)

const (
	defaultScratchDirName = ".datahubsync-scratch"
)

// Raw is the literal TOML shape of the client config file.
type Raw struct {
	Hub        HubRaw       `toml:"hub"`
	Datasets   []DatasetRaw `toml:"datasets"`
	Retries    RetriesRaw   `toml:"retries"`
	StateFile  string       `toml:"state_file"`
	ScratchDir string       `toml:"scratch_dir"`
}

// HubRaw is the `[hub]` table identifying the remote hub.
type HubRaw struct {
	BaseURL string `toml:"base_url"`
}

// DatasetRaw is one `[[datasets]]` entry the client mirrors.
type DatasetRaw struct {
	Name     string `toml:"name"`
	LocalDir string `toml:"local_dir"`
}

// RetriesRaw is the `[retries]` table.
type RetriesRaw struct {
	MaxRetries    *int     `toml:"max_retries"`
	BaseDelayMs   *int     `toml:"base_delay_ms"`
	MaxDelaySec   *int     `toml:"max_delay_sec"`
	JitterFactor  *float64 `toml:"jitter_factor"`
	BackoffFactor *float64 `toml:"backoff_factor"`
}

// DatasetTarget pairs a dataset name with the local directory it syncs
// into.
type DatasetTarget struct {
	Name     string
	LocalDir string
}

// Config is the client's fully-resolved, validated configuration.
type Config struct {
	HubBaseURL string
	Datasets   []DatasetTarget
	Retry      retry.Config
	StateFile  string
	ScratchDir string
}

// Load reads path, applies defaults, validates required fields, and
// creates scratch_dir if needed, checking that it is a writable
// directory. It does not check that local_dir and scratch_dir share a
// filesystem; the directory swap falls back to a copy when they do not.
func Load(path string) (*Config, []string, error) {
	var raw Raw
	warnings, err := configutil.Load(path, &raw)
	if err != nil {
		return nil, nil, err
	}

	if raw.Hub.BaseURL == "" {
		return nil, warnings, fmt.Errorf("%w: hub.base_url is required", hublib.ErrConfigInvalid)
	}
	if raw.StateFile == "" {
		return nil, warnings, fmt.Errorf("%w: state_file is required", hublib.ErrConfigInvalid)
	}
	if len(raw.Datasets) == 0 {
		return nil, warnings, fmt.Errorf("%w: no datasets configured", hublib.ErrConfigInvalid)
	}

	scratchDir := raw.ScratchDir
	if scratchDir == "" {
		scratchDir = filepath.Join(filepath.Dir(raw.StateFile), defaultScratchDirName)
	}

	cfg := &Config{
		HubBaseURL: raw.Hub.BaseURL,
		StateFile:  raw.StateFile,
		ScratchDir: scratchDir,
		Retry:      retry.DefaultConfig(),
	}

	seen := make(map[string]bool, len(raw.Datasets))
	for _, d := range raw.Datasets {
		if d.Name == "" {
			return nil, warnings, fmt.Errorf("%w: dataset missing name", hublib.ErrConfigInvalid)
		}
		if err := hublib.ValidateDatasetName(d.Name); err != nil {
			return nil, warnings, fmt.Errorf("%w: dataset %q: %v", hublib.ErrConfigInvalid, d.Name, err)
		}
		if seen[d.Name] {
			return nil, warnings, fmt.Errorf("%w: duplicate dataset name %q", hublib.ErrConfigInvalid, d.Name)
		}
		seen[d.Name] = true
		if d.LocalDir == "" {
			return nil, warnings, fmt.Errorf("%w: dataset %q missing local_dir", hublib.ErrConfigInvalid, d.Name)
		}
		cfg.Datasets = append(cfg.Datasets, DatasetTarget{Name: d.Name, LocalDir: d.LocalDir})
	}

	applyRetryOverrides(&cfg.Retry, raw.Retries)

	if err := hublib.ValidateDirectory(cfg.ScratchDir, true); err != nil {
		return nil, warnings, err
	}

	return cfg, warnings, nil
}

func applyRetryOverrides(cfg *retry.Config, raw RetriesRaw) {
	if raw.MaxRetries != nil {
		cfg.MaxRetries = *raw.MaxRetries
	}
	if raw.BaseDelayMs != nil {
		cfg.BaseDelay = time.Duration(*raw.BaseDelayMs) * time.Millisecond
	}
	if raw.MaxDelaySec != nil {
		cfg.MaxDelay = time.Duration(*raw.MaxDelaySec) * time.Second
	}
	if raw.JitterFactor != nil {
		cfg.JitterFactor = *raw.JitterFactor
	}
	if raw.BackoffFactor != nil {
		cfg.BackoffFactor = *raw.BackoffFactor
	}
}
