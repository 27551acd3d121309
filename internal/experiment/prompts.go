package experiment

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// PromptSet is a named list of prompts sent in order to one session.
type PromptSet struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Prompts     []string `yaml:"prompts"`
}

// DefaultPromptSet returns the built-in research conversation.
func DefaultPromptSet() PromptSet {
	set, err := ParsePromptSet(defaultPrompts)
	if err != nil {
		panic(fmt.Sprintf("experiment: embedded prompts: %v", err))
	}
	return set
}

// LoadPromptSet reads a prompt set from a YAML file. An empty path returns
// the built-in set.
func LoadPromptSet(path string) (PromptSet, error) {
	if path == "" {
		return DefaultPromptSet(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return PromptSet{}, fmt.Errorf("read prompt set: %w", err)
	}
	set, err := ParsePromptSet(data)
	if err != nil {
		return PromptSet{}, fmt.Errorf("prompt set %s: %w", path, err)
	}
	return set, nil
}

// ParsePromptSet decodes a YAML prompt set. Blank prompts are dropped.
func ParsePromptSet(data []byte) (PromptSet, error) {
	var set PromptSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return PromptSet{}, fmt.Errorf("decode prompt set: %w", err)
	}
	prompts := set.Prompts[:0]
	for _, p := range set.Prompts {
		if p = strings.TrimSpace(p); p != "" {
			prompts = append(prompts, p)
		}
	}
	set.Prompts = prompts
	if len(set.Prompts) == 0 {
		return PromptSet{}, errors.New("prompt set has no prompts")
	}
	return set, nil
}
