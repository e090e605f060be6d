package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agrimind/orchestrator/internal/orchestration"
)

// Manifest declares one agent in a YAML file: its descriptor plus the
// endpoint the HTTP agent binding should call.
type Manifest struct {
	Capability string   `yaml:"capability"`
	Subject    string   `yaml:"subject"`
	Keywords   []string `yaml:"keywords"`
	Latency    string   `yaml:"latency"` // fast|standard|slow
	Idempotent bool     `yaml:"idempotent"`
	Endpoint   string   `yaml:"endpoint,omitempty"`
	Input      []struct {
		Name     string `yaml:"name"`
		Kind     string `yaml:"kind"`
		Optional bool   `yaml:"optional"`
	} `yaml:"input"`
	Output []struct {
		Name     string `yaml:"name"`
		Kind     string `yaml:"kind"`
		Optional bool   `yaml:"optional"`
	} `yaml:"output"`
}

// Descriptor converts the manifest to an AgentDescriptor.
func (m Manifest) Descriptor() (orchestration.AgentDescriptor, error) {
	var latency orchestration.LatencyClass
	switch strings.ToLower(m.Latency) {
	case "", "standard":
		latency = orchestration.LatencyStandard
	case "fast":
		latency = orchestration.LatencyFast
	case "slow":
		latency = orchestration.LatencySlow
	default:
		return orchestration.AgentDescriptor{}, fmt.Errorf("manifest %q: unknown latency class %q", m.Capability, m.Latency)
	}

	desc := orchestration.AgentDescriptor{
		Capability: m.Capability,
		Subject:    m.Subject,
		Keywords:   m.Keywords,
		Latency:    latency,
		Idempotent: m.Idempotent,
	}
	for _, f := range m.Input {
		desc.Input.Fields = append(desc.Input.Fields, orchestration.SchemaField{
			Name: f.Name, Kind: orchestration.FieldKind(f.Kind), Optional: f.Optional,
		})
	}
	for _, f := range m.Output {
		desc.Output.Fields = append(desc.Output.Fields, orchestration.SchemaField{
			Name: f.Name, Kind: orchestration.FieldKind(f.Kind), Optional: f.Optional,
		})
	}
	return desc, nil
}

// LoadManifests reads every *.yaml manifest in dir, sorted by filename.
func LoadManifests(dir string) ([]Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read manifest dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := filepath.Ext(e.Name()); ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []Manifest
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read manifest %s: %w", name, err)
		}
		var m Manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse manifest %s: %w", name, err)
		}
		if m.Capability == "" {
			return nil, fmt.Errorf("manifest %s: missing capability tag", name)
		}
		out = append(out, m)
	}
	return out, nil
}
