// Package hostconfig loads the optional YAML configuration file the
// agenthost binary accepts via --config (graph-store connection options
// and provenance-store selection), following a plain-flag-plus-optional-
// file style rather than a CLI framework: flags always win, the file only
// fills in values a flag did not set.
package hostconfig

import (
	"os"

	"gopkg.in/yaml.v3"

	"goa.design/agenthost/internal/errs"
)

// Mongo holds Mongo-backed graph store connection options.
type Mongo struct {
	URI string `yaml:"uri"`
	DB  string `yaml:"db"`
}

// LLM selects the model provider backing the agents' llm.complete method.
// Provider is "anthropic", "openai", or empty/"none" to serve no native
// LLM method; credentials come from the provider's usual environment
// variable, never from this file.
type LLM struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// Config is the optional on-disk shape of --config.
type Config struct {
	Packages        []string `yaml:"packages"`
	ProvenanceStore string   `yaml:"provenance_store"`
	Mongo           Mongo    `yaml:"mongo"`
	LLM             LLM      `yaml:"llm"`
}

// Load reads and parses the YAML file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errs.Wrap(errs.InvalidArgument, err, "read config file")
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errs.Wrap(errs.InvalidArgument, err, "parse config file")
	}
	return cfg, nil
}
