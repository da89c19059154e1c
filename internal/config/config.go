// Package config loads a racekv.Config from JSONC files with the same
// defaults-then-overlay precedence the teacher's own CLI config loader
// uses, adapted from string ticket-directory settings to the index's
// sizing knobs.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/race-kv/racekv/pkg/racekv"
)

var (
	errConfigFileNotFound = errors.New("config file not found")
	errConfigFileRead     = errors.New("cannot read config file")
	errConfigInvalid      = errors.New("invalid config file")
	errBucketGroupsZero   = errors.New("bucket_groups cannot be zero or negative")
)

// ConfigFileName is the default project config file name, checked in the
// working directory when no explicit path is given.
const ConfigFileName = ".racekv.json"

// fileConfig mirrors racekv.Config but with every field optional, so a
// config file may set only the knobs it cares about and inherit the rest
// from the layer below it.
type fileConfig struct {
	BucketGroups   *int `json:"bucket_groups,omitempty"` // nil when absent, so an explicit 0 reaches validation
	SlotsPerBucket int  `json:"slots_per_bucket,omitempty"`
	MaxEntries     int  `json:"max_entries,omitempty"`
	PageSize       int  `json:"page_size,omitempty"`
	NUMANode       int  `json:"numa_node,omitempty"`
}

// Sources tracks which config files were actually loaded, for diagnostics.
type Sources struct {
	Global  string
	Project string
}

// Load builds a racekv.Config with the following precedence (highest wins):
//  1. racekv.DefaultConfig()
//  2. global user config (~/.config/racekv/config.json or $XDG_CONFIG_HOME/racekv/config.json)
//  3. project config file at workDir/.racekv.json, or the explicit configPath if non-empty
//  4. cliOverrides, applied field-by-field wherever the caller set override=true
func Load(workDir, configPath string, cliOverrides racekv.Config, overrideSet map[string]bool, env []string) (racekv.Config, Sources, error) {
	cfg := racekv.DefaultConfig()

	var sources Sources

	global, globalPath, err := loadGlobalConfig(env)
	if err != nil {
		return racekv.Config{}, Sources{}, err
	}

	sources.Global = globalPath
	cfg = mergeConfig(cfg, global)

	project, projectPath, err := loadProjectConfig(workDir, configPath)
	if err != nil {
		return racekv.Config{}, Sources{}, err
	}

	sources.Project = projectPath
	cfg = mergeConfig(cfg, project)

	cfg = applyOverrides(cfg, cliOverrides, overrideSet)

	if err := validateConfig(cfg); err != nil {
		return racekv.Config{}, Sources{}, err
	}

	return cfg, sources, nil
}

func getGlobalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok {
			return filepath.Join(after, "racekv", "config.json")
		}
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "racekv", "config.json")
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "racekv", "config.json")
	}

	return ""
}

func loadGlobalConfig(env []string) (fileConfig, string, error) {
	path := getGlobalConfigPath(env)
	if path == "" {
		return fileConfig{}, "", nil
	}

	cfg, loaded, err := loadConfigFile(path, false)
	if err != nil {
		return fileConfig{}, "", err
	}

	if !loaded {
		return fileConfig{}, "", nil
	}

	return cfg, path, nil
}

func loadProjectConfig(workDir, configPath string) (fileConfig, string, error) {
	var cfgFile string

	var mustExist bool

	if configPath != "" {
		cfgFile = configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(workDir, cfgFile)
		}

		mustExist = true

		if _, statErr := os.Stat(cfgFile); statErr != nil {
			return fileConfig{}, "", fmt.Errorf("%w: %s", errConfigFileNotFound, configPath)
		}
	} else {
		cfgFile = filepath.Join(workDir, ConfigFileName)
		mustExist = false
	}

	cfg, loaded, err := loadConfigFile(cfgFile, mustExist)
	if err != nil {
		return fileConfig{}, "", err
	}

	if !loaded {
		return fileConfig{}, "", nil
	}

	return cfg, cfgFile, nil
}

func loadConfigFile(path string, mustExist bool) (fileConfig, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return fileConfig{}, false, nil
		}

		if mustExist {
			return fileConfig{}, false, fmt.Errorf("%w: %s", errConfigFileRead, path)
		}

		return fileConfig{}, false, nil
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return fileConfig{}, false, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	return cfg, true, nil
}

func parseConfig(data []byte) (fileConfig, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg fileConfig

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func mergeConfig(base racekv.Config, overlay fileConfig) racekv.Config {
	if overlay.BucketGroups != nil {
		base.BucketGroups = *overlay.BucketGroups
	}

	if overlay.SlotsPerBucket != 0 {
		base.SlotsPerBucket = overlay.SlotsPerBucket
	}

	if overlay.MaxEntries != 0 {
		base.MaxEntries = overlay.MaxEntries
	}

	if overlay.PageSize != 0 {
		base.PageSize = overlay.PageSize
	}

	if overlay.NUMANode != 0 {
		base.NUMANode = overlay.NUMANode
	}

	return base
}

// applyOverrides copies fields from cliOverrides into cfg wherever the
// caller flagged the field as explicitly set (overrideSet keys match the
// fileConfig json tags: "bucket_groups", "slots_per_bucket", "max_entries",
// "page_size", "numa_node"), mirroring the teacher CLI's
// hasTicketDirOverride pattern generalized to five knobs.
func applyOverrides(cfg, cliOverrides racekv.Config, overrideSet map[string]bool) racekv.Config {
	if overrideSet["bucket_groups"] {
		cfg.BucketGroups = cliOverrides.BucketGroups
	}

	if overrideSet["slots_per_bucket"] {
		cfg.SlotsPerBucket = cliOverrides.SlotsPerBucket
	}

	if overrideSet["max_entries"] {
		cfg.MaxEntries = cliOverrides.MaxEntries
	}

	if overrideSet["page_size"] {
		cfg.PageSize = cliOverrides.PageSize
	}

	if overrideSet["numa_node"] {
		cfg.NUMANode = cliOverrides.NUMANode
	}

	return cfg
}

func validateConfig(cfg racekv.Config) error {
	if cfg.BucketGroups <= 0 {
		return errBucketGroupsZero
	}

	return nil
}

// Format returns cfg as indented JSON, for `racekv config show`-style output.
func Format(cfg racekv.Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}

	return string(data), nil
}
