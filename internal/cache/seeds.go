package cache

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"specpilot/internal/agent/ports"
	jsonx "specpilot/internal/shared/json"
)

// seedFile is the YAML layout of a warm-up file:
//
//	seeds:
//	  - agent: extractor
//	    user: "I want a todo app"
//	    ttl: 24h
//	    tags: [demo]
//	    value: {profile: {projectName: Todo}}
type seedFile struct {
	Seeds []seedSpec `yaml:"seeds"`
}

type seedSpec struct {
	Key     string    `yaml:"key"`
	Agent   string    `yaml:"agent"`
	System  string    `yaml:"system"`
	User    string    `yaml:"user"`
	TTL     string    `yaml:"ttl"`
	Tags    []string  `yaml:"tags"`
	Value   yaml.Node `yaml:"value"`
	History []struct {
		Role    string `yaml:"role"`
		Content string `yaml:"content"`
	} `yaml:"history"`
}

// LoadSeeds parses warm-up seeds from YAML. Entries without an explicit key
// get one derived from agent, system, user and history exactly as live calls
// derive theirs. Values are converted to V through JSON.
func LoadSeeds[V any](r io.Reader, keys KeyBuilder) ([]Seed[V], error) {
	var file seedFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("parse seeds: %w", err)
	}

	seeds := make([]Seed[V], 0, len(file.Seeds))
	for i, spec := range file.Seeds {
		if spec.Agent == "" && spec.Key == "" {
			return nil, fmt.Errorf("seed %d: agent or key is required", i)
		}
		var ttl time.Duration
		if spec.TTL != "" {
			parsed, err := time.ParseDuration(spec.TTL)
			if err != nil {
				return nil, fmt.Errorf("seed %d: ttl: %w", i, err)
			}
			ttl = parsed
		}

		var raw any
		if err := spec.Value.Decode(&raw); err != nil {
			return nil, fmt.Errorf("seed %d: value: %w", i, err)
		}
		data, err := jsonx.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("seed %d: value: %w", i, err)
		}
		var value V
		if err := jsonx.Unmarshal(data, &value); err != nil {
			return nil, fmt.Errorf("seed %d: value: %w", i, err)
		}

		key := spec.Key
		if key == "" {
			key = keys.Key(KeyInput{
				AgentType:          spec.Agent,
				SystemPrompt:       spec.System,
				UserMessage:        spec.User,
				HistoryFingerprint: historyFingerprintFromSpec(spec),
			})
		}
		seeds = append(seeds, Seed[V]{Key: key, Value: value, AgentType: spec.Agent, Tags: spec.Tags, TTL: ttl})
	}
	return seeds, nil
}

func historyFingerprintFromSpec(spec seedSpec) string {
	if len(spec.History) == 0 {
		return ""
	}
	msgs := make([]ports.Message, len(spec.History))
	for i, item := range spec.History {
		msgs[i] = ports.Message{Role: item.Role, Content: item.Content}
	}
	return HistoryFingerprint(msgs)
}
