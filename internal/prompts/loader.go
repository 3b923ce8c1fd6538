// Package prompts renders agent prompts from an embedded YAML prompt pack.
package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"specpilot/internal/agent/ports"
	jsonx "specpilot/internal/shared/json"
)

//go:embed prompts.yaml
var defaultPack []byte

// Data is the view of a session that prompt templates render from.
type Data struct {
	Stage           string
	Fields          []string
	Profile         map[string]any
	UserInput       string
	PendingQuestion string
	PendingOptions  []ports.Option
	MissingFields   []string
	AskedQuestions  []string
	StageSummaries  map[string]string
	Selections      map[string]string
	Summary         string
	Extra           map[string]any
}

// Rendered is a prompt ready to send: a system message and a user message.
type Rendered struct {
	Name   string
	System string
	User   string
}

// Messages converts the rendered prompt into conversation messages.
func (r Rendered) Messages() []ports.Message {
	msgs := make([]ports.Message, 0, 2)
	if strings.TrimSpace(r.System) != "" {
		msgs = append(msgs, ports.Message{Role: ports.RoleSystem, Content: r.System})
	}
	if strings.TrimSpace(r.User) != "" {
		msgs = append(msgs, ports.Message{Role: ports.RoleUser, Content: r.User})
	}
	return msgs
}

// Renderer renders named prompts. Agents depend on this rather than on the
// loader so tests can substitute fixed prompts.
type Renderer interface {
	Render(name string, data any) (Rendered, error)
}

type packFile struct {
	Version  int                   `yaml:"version"`
	Prompts  map[string]promptSpec `yaml:"prompts"`
	Partials map[string]string     `yaml:"partials"`
}

type promptSpec struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

// PromptLoader holds a parsed prompt pack.
type PromptLoader struct {
	set   *template.Template
	names []string
}

// NewPromptLoader parses the embedded prompt pack.
func NewPromptLoader() (*PromptLoader, error) {
	return Parse(bytes.NewReader(defaultPack))
}

// LoadFile parses a prompt pack from disk, replacing the embedded one.
func LoadFile(path string) (*PromptLoader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open prompt pack: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a YAML prompt pack. Every prompt is parsed up front so template
// errors surface at startup rather than mid-conversation.
func Parse(r io.Reader) (*PromptLoader, error) {
	var pack packFile
	if err := yaml.NewDecoder(r).Decode(&pack); err != nil {
		return nil, fmt.Errorf("failed to decode prompt pack: %w", err)
	}
	if len(pack.Prompts) == 0 {
		return nil, fmt.Errorf("prompt pack defines no prompts")
	}

	set := template.New("pack").Funcs(funcMap()).Option("missingkey=zero")
	for name, text := range pack.Partials {
		if _, err := set.New(name).Parse(text); err != nil {
			return nil, fmt.Errorf("failed to parse partial %s: %w", name, err)
		}
	}

	names := make([]string, 0, len(pack.Prompts))
	for name, spec := range pack.Prompts {
		if _, err := set.New(name + ".system").Parse(spec.System); err != nil {
			return nil, fmt.Errorf("failed to parse prompt %s (system): %w", name, err)
		}
		if _, err := set.New(name + ".user").Parse(spec.User); err != nil {
			return nil, fmt.Errorf("failed to parse prompt %s (user): %w", name, err)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return &PromptLoader{set: set, names: names}, nil
}

// Render executes the named prompt against data.
func (p *PromptLoader) Render(name string, data any) (Rendered, error) {
	if p.set.Lookup(name+".system") == nil {
		return Rendered{}, fmt.Errorf("prompt template '%s' not found", name)
	}
	system, err := p.execute(name+".system", data)
	if err != nil {
		return Rendered{}, err
	}
	user, err := p.execute(name+".user", data)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{Name: name, System: system, User: user}, nil
}

func (p *PromptLoader) execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := p.set.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// ListPrompts returns all available prompt names, sorted.
func (p *PromptLoader) ListPrompts() []string {
	return append([]string(nil), p.names...)
}

func funcMap() template.FuncMap {
	return template.FuncMap{
		"json": func(v any) string {
			if v == nil {
				return "{}"
			}
			data, err := jsonx.MarshalIndent(v, "", "  ")
			if err != nil {
				return fmt.Sprintf("%v", v)
			}
			return string(data)
		},
		"join": func(items []string, sep string) string {
			return strings.Join(items, sep)
		},
		"inc": func(i int) int { return i + 1 },
		"default": func(fallback, v string) string {
			if strings.TrimSpace(v) == "" {
				return fallback
			}
			return v
		},
	}
}
