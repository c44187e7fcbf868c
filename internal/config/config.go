// Package config loads optional tool defaults from an HCL file.
// Command-line flags override anything set here.
package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/update-tools/restitch/internal/reconcile"
)

// Config holds tool-level defaults.
type Config struct {
	// PackagesRoot is the reconciliation root holding loose files.
	PackagesRoot string `hcl:"packages_root,optional"`
	// ContainersRoot holds the archive containers scanned for license
	// maps. Empty means fall back to PackagesRoot.
	ContainersRoot string `hcl:"containers_root,optional"`
	// LedgerPath is the run-history database. Empty disables the ledger.
	LedgerPath string `hcl:"ledger_path,optional"`
	// Workers bounds parallel hashing.
	Workers int `hcl:"workers,optional"`
	// LoosePatterns are the glob patterns identifying loose files.
	LoosePatterns []string `hcl:"loose_patterns,optional"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		PackagesRoot:  ".",
		Workers:       4,
		LoosePatterns: reconcile.DefaultLoosePatterns,
	}
}

// Load reads an HCL config file, filling unset fields from Default.
func Load(path string) (Config, error) {
	cfg := Config{}
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return Config{}, fmt.Errorf("loading config %s: %w", path, err)
	}
	defaults := Default()
	if cfg.PackagesRoot == "" {
		cfg.PackagesRoot = defaults.PackagesRoot
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if len(cfg.LoosePatterns) == 0 {
		cfg.LoosePatterns = defaults.LoosePatterns
	}
	return cfg, nil
}
