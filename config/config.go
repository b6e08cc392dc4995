// Package config loads the bootstrap, non-versioned tunables that live at
// R/config (spec §6.4): decay constants, the default branch name, and
// pubsub backend selection. This is deliberately the only persistence
// mechanism for those tunables — the scope registry itself is versioned
// through package vmr's ordinary commit path (see mlse.DefineScope and the
// design notes' "scope registry persistence" decision). Grounded in the
// teacher's internal/config.go: same yaml.v3 load/save shape, generalized
// to this repository's config surface.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/blakebarnett/thymos/errs"
	"github.com/blakebarnett/thymos/mlse"
	"github.com/blakebarnett/thymos/pscl"
)

const configFileName = "config"

// LifecycleSection mirrors mlse.LifecycleConfig for serialization; kept
// distinct so package config never needs to import yaml tags into mlse's
// domain type.
type LifecycleSection struct {
	AccessCountWeight         float64 `yaml:"access_count_weight"`
	EmotionalWeightMultiplier float64 `yaml:"emotional_weight_multiplier"`
	BaseStability             float64 `yaml:"base_stability"`
}

// PubSubSection selects and configures the PSCL backend.
type PubSubSection struct {
	Backend           string `yaml:"backend"` // "local", "distributed", "hybrid"
	DistributedDBPath string `yaml:"distributed_db_path,omitempty"`
}

// DefaultScopeSection records the "default" scope's values in R/config. It
// is a bootstrap hint only: mlse does not read it, and when the tree has no
// `_scopes/default` entry the Engine uses mlse.DefaultScopeConfig() in
// memory without committing anything.
type DefaultScopeSection struct {
	DecayHours           float64 `yaml:"decay_hours"`
	ImportanceMultiplier float64 `yaml:"importance_multiplier"`
	SearchWeight         float64 `yaml:"search_weight"`
}

// Config is the full R/config document.
type Config struct {
	DefaultBranch string              `yaml:"default_branch"`
	Lifecycle     LifecycleSection    `yaml:"lifecycle"`
	PubSub        PubSubSection       `yaml:"pubsub"`
	DefaultScope  DefaultScopeSection `yaml:"default_scope"`
}

func Default() *Config {
	lc := mlse.DefaultLifecycleConfig()
	ds := mlse.DefaultScopeConfig()
	return &Config{
		DefaultBranch: "main",
		Lifecycle: LifecycleSection{
			AccessCountWeight:         lc.AccessCountWeight,
			EmotionalWeightMultiplier: lc.EmotionalWeightMultiplier,
			BaseStability:             lc.BaseStability,
		},
		PubSub: PubSubSection{Backend: string(pscl.BackendLocal)},
		DefaultScope: DefaultScopeSection{
			DecayHours: ds.DecayHours, ImportanceMultiplier: ds.ImportanceMultiplier, SearchWeight: ds.SearchWeight,
		},
	}
}

// schema validates the shape of a loaded config document (values, not just
// types) before it's trusted — the source of §7's Validation category for
// this path, the same role gojsonschema plays validating lifecycle/scope
// config in the sibling memory-daemon this dependency is grounded on.
const schema = `{
	"type": "object",
	"properties": {
		"default_branch": { "type": "string", "minLength": 1 },
		"lifecycle": {
			"type": "object",
			"properties": {
				"access_count_weight": { "type": "number", "minimum": 0 },
				"emotional_weight_multiplier": { "type": "number", "minimum": 0 },
				"base_stability": { "type": "number", "minimum": 0 }
			}
		},
		"pubsub": {
			"type": "object",
			"properties": {
				"backend": { "type": "string", "enum": ["local", "distributed", "hybrid"] }
			}
		},
		"default_scope": {
			"type": "object",
			"properties": {
				"decay_hours": { "type": "number", "minimum": 0 },
				"importance_multiplier": { "type": "number", "minimum": 0 },
				"search_weight": { "type": "number", "minimum": 0, "maximum": 1 }
			}
		}
	}
}`

func validate(data []byte) error {
	// gojsonschema validates JSON; re-marshal the parsed YAML document to
	// JSON rather than requiring callers to author the config twice.
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	docLoader := gojsonschema.NewGoLoader(doc)
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), docLoader)
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := ""
		for _, e := range result.Errors() {
			msgs += e.String() + "; "
		}
		return fmt.Errorf("config schema validation failed: %s", msgs)
	}
	return nil
}

// Load reads R/config under root, returning defaults if absent.
func Load(root string) (*Config, error) {
	path := filepath.Join(root, configFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.Resource, "config.Load", err)
	}
	if err := validate(data); err != nil {
		return nil, errs.Wrap(errs.Validation, "config.Load", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errs.Wrap(errs.Validation, "config.Load", err)
	}
	return &cfg, nil
}

// Save writes cfg to R/config.
func Save(root string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errs.Wrap(errs.Validation, "config.Save", err)
	}
	return os.WriteFile(filepath.Join(root, configFileName), data, 0o644)
}

// PubSubConfig converts the loaded section to pscl's domain type.
func (c *Config) PubSubConfig() pscl.Config {
	return pscl.Config{
		Backend:           pscl.BackendType(c.PubSub.Backend),
		DistributedDBPath: c.PubSub.DistributedDBPath,
	}
}

// LifecycleConfig converts the loaded section to mlse's domain type.
func (c *Config) LifecycleConfig() mlse.LifecycleConfig {
	return mlse.LifecycleConfig{
		AccessCountWeight:         c.Lifecycle.AccessCountWeight,
		EmotionalWeightMultiplier: c.Lifecycle.EmotionalWeightMultiplier,
		BaseStability:             c.Lifecycle.BaseStability,
	}
}
