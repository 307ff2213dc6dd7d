// Package config decodes the hub's TOML configuration file into an
// explicit record (spec.md §6.2), replacing the loose dictionary the
// redesign note in spec.md §9 calls out.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/datahubsync/datahubsync/pkg/hublib"
	"github.com/datahubsync/datahubsync/pkg/configutil"
)

const (
	defaultNewerRatioThreshold = 0.30
	defaultDebounceSeconds     = 60
	defaultSchedulerInterval   = 10 * time.Minute
	defaultKeepVersions        = 2
	defaultPackagingFormat     = "zip"
)

// defaultTabularExtensions is the recognized-extension set when
// freshness.tabular_extensions is absent from the config file.
var defaultTabularExtensions = []string{".csv"}

// Raw is the literal TOML shape of the hub config file. Config is built
// from it after defaults and the data_root/data_dir synonym are resolved.
type Raw struct {
	Server    ServerRaw    `toml:"server"`
	Datasets  []DatasetRaw `toml:"datasets"`
	Freshness FreshnessRaw `toml:"freshness"`
	Scheduler SchedulerRaw `toml:"scheduler"`
	Packaging PackagingRaw `toml:"packaging"`
	StateFile string       `toml:"state_file"`

	// Hub is the legacy table name carrying data_dir; see §9 Open Question.
	Hub HubLegacyRaw `toml:"hub"`
}

// ServerRaw is the `[server]` table.
type ServerRaw struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	DataRoot string `toml:"data_root"`
	CacheDir string `toml:"cache_dir"`
}

// HubLegacyRaw is the `[hub]` table carrying the older data_dir key,
// accepted as a synonym for server.data_root (spec.md §9).
type HubLegacyRaw struct {
	DataDir string `toml:"data_dir"`
}

// DatasetRaw is one `[[datasets]]` entry.
type DatasetRaw struct {
	Name                string   `toml:"name"`
	Path                string   `toml:"path"`
	NewerRatioThreshold *float64 `toml:"newer_ratio_threshold"`
}

// FreshnessRaw is the `[freshness]` table.
type FreshnessRaw struct {
	DebounceSeconds   *int     `toml:"debounce_seconds"`
	MtimeGranularity  string   `toml:"mtime_granularity"`
	TabularExtensions []string `toml:"tabular_extensions"`
}

// SchedulerRaw is the `[scheduler]` table.
type SchedulerRaw struct {
	IntervalMinutes *int `toml:"interval_minutes"`
}

// PackagingRaw is the `[packaging]` table.
type PackagingRaw struct {
	Format       string `toml:"format"`
	KeepVersions *int   `toml:"keep_versions"`
}

// Config is the hub's fully-resolved, validated configuration.
type Config struct {
	Host             string
	Port             int
	DataRoot         string
	CacheDir         string
	Datasets         []hublib.Dataset
	SchedulerTick    time.Duration
	PackagingFormat  string
	KeepVersions     int
	StateFile        string
}

// Load reads path, applies defaults, resolves the data_root/data_dir
// synonym and dataset path relativization, and validates required
// fields and directory accessibility. Unknown keys, including keys
// inside known tables (e.g. "server.bogus"), are returned as warnings,
// not errors.
func Load(path string) (*Config, []string, error) {
	var raw Raw
	warnings, err := configutil.Load(path, &raw)
	if err != nil {
		return nil, nil, err
	}

	cfg := &Config{
		Host:            raw.Server.Host,
		Port:            raw.Server.Port,
		PackagingFormat: defaultPackagingFormat,
		KeepVersions:    defaultKeepVersions,
		SchedulerTick:   defaultSchedulerInterval,
		StateFile:       raw.StateFile,
	}

	// server.data_root takes precedence over the legacy hub.data_dir key.
	cfg.DataRoot = raw.Server.DataRoot
	if cfg.DataRoot == "" {
		cfg.DataRoot = raw.Hub.DataDir
	}

	cfg.CacheDir = raw.Server.CacheDir

	if raw.Packaging.Format != "" {
		cfg.PackagingFormat = raw.Packaging.Format
	}
	if raw.Packaging.KeepVersions != nil {
		cfg.KeepVersions = *raw.Packaging.KeepVersions
	}
	if raw.Scheduler.IntervalMinutes != nil {
		cfg.SchedulerTick = time.Duration(*raw.Scheduler.IntervalMinutes) * time.Minute
	}

	granularity := time.Minute // spec.md: only "minute" is defined
	debounce := defaultDebounceSeconds
	if raw.Freshness.DebounceSeconds != nil {
		debounce = *raw.Freshness.DebounceSeconds
	}
	extensions := defaultTabularExtensions
	if len(raw.Freshness.TabularExtensions) > 0 {
		extensions = raw.Freshness.TabularExtensions
	}

	if len(raw.Datasets) == 0 {
		return nil, warnings, fmt.Errorf("%w: no datasets configured", hublib.ErrConfigInvalid)
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
		if d.Path == "" {
			return nil, warnings, fmt.Errorf("%w: dataset %q missing path", hublib.ErrConfigInvalid, d.Name)
		}

		threshold := defaultNewerRatioThreshold
		if d.NewerRatioThreshold != nil {
			threshold = *d.NewerRatioThreshold
		}

		sourcePath := d.Path
		if !filepath.IsAbs(sourcePath) && cfg.DataRoot != "" {
			sourcePath = filepath.Join(cfg.DataRoot, sourcePath)
		}

		cfg.Datasets = append(cfg.Datasets, hublib.Dataset{
			Name:                d.Name,
			SourcePath:          sourcePath,
			NewerRatioThreshold: threshold,
			DebounceSeconds:     debounce,
			MtimeGranularity:    granularity,
			TabularExtensions:   extensions,
		})
	}

	if cfg.Host == "" {
		return nil, warnings, fmt.Errorf("%w: server.host is required", hublib.ErrConfigInvalid)
	}
	if cfg.Port == 0 {
		return nil, warnings, fmt.Errorf("%w: server.port is required", hublib.ErrConfigInvalid)
	}
	if cfg.CacheDir == "" {
		return nil, warnings, fmt.Errorf("%w: server.cache_dir is required", hublib.ErrConfigInvalid)
	}
	if cfg.StateFile == "" {
		return nil, warnings, fmt.Errorf("%w: state_file is required", hublib.ErrConfigInvalid)
	}

	if err := hublib.ValidateDirectory(cfg.CacheDir, true); err != nil {
		return nil, warnings, err
	}
	for _, d := range cfg.Datasets {
		if err := hublib.ValidateDirectory(d.SourcePath, false); err != nil {
			return nil, warnings, fmt.Errorf("dataset %q: %w", d.Name, err)
		}
	}

	return cfg, warnings, nil
}
