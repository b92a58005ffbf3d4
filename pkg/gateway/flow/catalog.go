// Package flow implements the deterministic conversation flow engine: a
// YAML-defined topic catalog walked through two nodes (topic selection and
// detailed Q&A), emitting deduplicated state snapshots as progress changes.
package flow

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Topic is one catalog entry the conversation can cover.
type Topic struct {
	// ID is the stable identifier carried in state snapshots. The
	// presentation layer matches snapshot topic strings against these IDs
	// exactly; they are the cross-boundary data contract.
	ID string `yaml:"id"`

	// Name is the display name.
	Name string `yaml:"name"`

	// Summary is a one-line description for checklist rendering.
	Summary string `yaml:"summary"`

	// Keywords trigger this topic when they appear in a user utterance.
	Keywords []string `yaml:"keywords"`

	// Script is the agent's reply once the topic is selected.
	Script string `yaml:"script"`
}

// Catalog is the full conversation definition.
type Catalog struct {
	Title    string  `yaml:"title"`
	Greeting string  `yaml:"greeting"`
	Fallback string  `yaml:"fallback"`
	Farewell string  `yaml:"farewell"`
	Topics   []Topic `yaml:"topics"`
}

// LoadCatalog reads and validates a YAML catalog file.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalog YAML.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// Validate checks the catalog invariants: at least one topic, unique
// non-empty IDs, and at least one keyword per topic.
func (c Catalog) Validate() error {
	if len(c.Topics) == 0 {
		return fmt.Errorf("catalog has no topics")
	}
	seen := make(map[string]struct{}, len(c.Topics))
	for i, topic := range c.Topics {
		id := strings.TrimSpace(topic.ID)
		if id == "" {
			return fmt.Errorf("topic %d has an empty id", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate topic id %q", id)
		}
		seen[id] = struct{}{}
		if len(topic.Keywords) == 0 {
			return fmt.Errorf("topic %q has no keywords", id)
		}
		if strings.TrimSpace(topic.Script) == "" {
			return fmt.Errorf("topic %q has no script", id)
		}
	}
	return nil
}

// TopicIDs returns the catalog's topic identifiers in order.
func (c Catalog) TopicIDs() []string {
	ids := make([]string, len(c.Topics))
	for i, t := range c.Topics {
		ids[i] = t.ID
	}
	return ids
}
