// Package config loads the YAML document bundles that back the policy
// engine, tool contracts, agent identities, memory schemas, and alert
// rules, and watches them for changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/safeai-run/safeai/pkg/alert"
	"github.com/safeai-run/safeai/pkg/contract"
	"github.com/safeai-run/safeai/pkg/identity"
	"github.com/safeai-run/safeai/pkg/memory"
	"github.com/safeai-run/safeai/pkg/policy"
)

// Bundle is every kind of document this engine loads, each normalized
// into its package's runtime type.
type Bundle struct {
	Rules     []policy.Rule
	Contracts []contract.Contract
	Identites []identity.Identity
	Memories  []memory.Schema
	Alerts    []alert.Rule
	Files     []string
}

// FilePatterns names, relative to the directory holding the root config
// file, the glob patterns for each document kind.
type FilePatterns struct {
	Policies  []string
	Contracts []string
	Identites []string
	Memories  []string
	Alerts    []string
}

// DefaultPatterns mirrors the reference loader's directory layout.
func DefaultPatterns() FilePatterns {
	return FilePatterns{
		Policies:  []string{"policies/*.yaml", "policies/*.yml"},
		Contracts: []string{"contracts/*.yaml", "contracts/*.yml"},
		Identites: []string{"identities/*.yaml", "identities/*.yml"},
		Memories:  []string{"memory/*.yaml", "memory/*.yml"},
		Alerts:    []string{"alerts/*.yaml", "alerts/*.yml"},
	}
}

// Load resolves every pattern relative to configPath's directory,
// reads every matching file, and normalizes it into a Bundle. A
// malformed file is a fatal error — no partial bundle is ever returned.
func Load(configPath string, patterns FilePatterns) (Bundle, error) {
	base := filepath.Dir(configPath)

	policyFiles, err := resolveFiles(base, patterns.Policies)
	if err != nil {
		return Bundle{}, err
	}
	var policyDocs []policy.Document
	for _, f := range policyFiles {
		var doc policy.Document
		if err := decodeYAML(f, &doc); err != nil {
			return Bundle{}, err
		}
		policyDocs = append(policyDocs, doc)
	}
	rules, err := policy.NormalizeDocuments(policyDocs)
	if err != nil {
		return Bundle{}, err
	}

	contractFiles, err := resolveFiles(base, patterns.Contracts)
	if err != nil {
		return Bundle{}, err
	}
	var contractDocs []contract.Document
	for _, f := range contractFiles {
		var doc contract.Document
		if err := decodeYAML(f, &doc); err != nil {
			return Bundle{}, err
		}
		contractDocs = append(contractDocs, doc)
	}
	contracts, err := contract.NormalizeDocuments(contractDocs)
	if err != nil {
		return Bundle{}, err
	}

	identityFiles, err := resolveFiles(base, patterns.Identites)
	if err != nil {
		return Bundle{}, err
	}
	var identityDocs []identity.Document
	for _, f := range identityFiles {
		var doc identity.Document
		if err := decodeYAML(f, &doc); err != nil {
			return Bundle{}, err
		}
		identityDocs = append(identityDocs, doc)
	}
	identities, err := identity.NormalizeDocuments(identityDocs)
	if err != nil {
		return Bundle{}, err
	}

	memoryFiles, err := resolveFiles(base, patterns.Memories)
	if err != nil {
		return Bundle{}, err
	}
	var memoryDocs []memory.Document
	for _, f := range memoryFiles {
		var doc memory.Document
		if err := decodeYAML(f, &doc); err != nil {
			return Bundle{}, err
		}
		memoryDocs = append(memoryDocs, doc)
	}
	schemas, err := memory.NormalizeDocuments(memoryDocs)
	if err != nil {
		return Bundle{}, err
	}

	alertFiles, err := resolveFiles(base, patterns.Alerts)
	if err != nil {
		return Bundle{}, err
	}
	var alertDocs []alert.Document
	for _, f := range alertFiles {
		var doc alert.Document
		if err := decodeYAML(f, &doc); err != nil {
			return Bundle{}, err
		}
		alertDocs = append(alertDocs, doc)
	}
	rulesAlert, err := alert.NormalizeDocuments(alertDocs)
	if err != nil {
		return Bundle{}, err
	}

	allFiles := append(append(append(append(append([]string{}, policyFiles...), contractFiles...), identityFiles...), memoryFiles...), alertFiles...)
	sort.Strings(allFiles)

	return Bundle{
		Rules:     rules,
		Contracts: contracts,
		Identites: identities,
		Memories:  schemas,
		Alerts:    rulesAlert,
		Files:     allFiles,
	}, nil
}

// resolveFiles expands every glob pattern relative to base (unless the
// pattern is already absolute), sorted and deduplicated.
func resolveFiles(base string, patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, pattern := range patterns {
		full := pattern
		if !filepath.IsAbs(pattern) {
			full = filepath.Join(base, pattern)
		}
		matches, err := filepath.Glob(full)
		if err != nil {
			return nil, fmt.Errorf("config: invalid glob pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

func decodeYAML(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// ConfigPathFromEnv returns SAFEAI_CONFIG, or fallback if unset.
func ConfigPathFromEnv(fallback string) string {
	if v := os.Getenv("SAFEAI_CONFIG"); v != "" {
		return v
	}
	return fallback
}

// WatchDirs lists the directories a filesystem watcher should observe
// to catch document changes under configPath's directory: the base
// directory itself plus every distinct directory named by patterns
// (e.g. "policies", "contracts").
func WatchDirs(configPath string, patterns FilePatterns) []string {
	base := filepath.Dir(configPath)
	seen := map[string]struct{}{base: {}}
	dirs := []string{base}

	allPatterns := append(append(append(append([]string{}, patterns.Policies...), patterns.Contracts...), patterns.Identites...), append(patterns.Memories, patterns.Alerts...)...)
	for _, pattern := range allPatterns {
		dir := filepath.Dir(pattern)
		if dir == "." {
			continue
		}
		full := dir
		if !filepath.IsAbs(dir) {
			full = filepath.Join(base, dir)
		}
		if _, dup := seen[full]; dup {
			continue
		}
		seen[full] = struct{}{}
		dirs = append(dirs, full)
	}
	return dirs
}
