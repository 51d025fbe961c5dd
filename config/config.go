// Package config parses the static text file that lists, for each
// acceptor and proposer index, its host:port (spec.md §6,
// Configuration). Kept as YAML rather than the original's ad hoc
// text, parsed with gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Endpoint is one acceptor or proposer's network address.
type Endpoint struct {
	Id   int    `yaml:"id"`
	Addr string `yaml:"addr"`
}

// Cluster is the full static topology: every acceptor and proposer in
// the deployment, plus the two compile-time constants spec.md §6
// calls N_OF_ACCEPTORS and MAX_PROPOSERS.
type Cluster struct {
	Acceptors    []Endpoint `yaml:"acceptors"`
	Proposers    []Endpoint `yaml:"proposers"`
	MaxProposers int        `yaml:"max_proposers"`
}

// QuorumSize returns floor(N/2)+1 for the configured acceptor count.
func (c *Cluster) QuorumSize() int {
	return len(c.Acceptors)/2 + 1
}

// Load reads and validates a cluster configuration file. Invalid
// configuration fails construction and is reported to the caller
// (spec.md §7.3); it never panics.
func Load(path string) (*Cluster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var c Cluster
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &c, nil
}

func (c *Cluster) validate() error {
	if len(c.Acceptors) == 0 {
		return fmt.Errorf("no acceptors configured")
	}
	if len(c.Proposers) == 0 {
		return fmt.Errorf("no proposers configured")
	}
	if c.MaxProposers <= 0 {
		c.MaxProposers = 10
	}
	if len(c.Proposers) > c.MaxProposers {
		return fmt.Errorf("%d proposers configured but max_proposers is %d", len(c.Proposers), c.MaxProposers)
	}
	seen := make(map[int]bool, len(c.Acceptors))
	for _, a := range c.Acceptors {
		if a.Id < 0 || a.Id >= len(c.Acceptors) {
			return fmt.Errorf("acceptor id %d out of range [0,%d)", a.Id, len(c.Acceptors))
		}
		if seen[a.Id] {
			return fmt.Errorf("duplicate acceptor id %d", a.Id)
		}
		seen[a.Id] = true
		if a.Addr == "" {
			return fmt.Errorf("acceptor %d missing addr", a.Id)
		}
	}
	seenP := make(map[int]bool, len(c.Proposers))
	for _, p := range c.Proposers {
		if p.Id < 0 || p.Id >= c.MaxProposers {
			return fmt.Errorf("proposer id %d out of range [0,%d)", p.Id, c.MaxProposers)
		}
		if seenP[p.Id] {
			return fmt.Errorf("duplicate proposer id %d", p.Id)
		}
		seenP[p.Id] = true
		if p.Addr == "" {
			return fmt.Errorf("proposer %d missing addr", p.Id)
		}
	}
	return nil
}
