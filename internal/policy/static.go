package policy

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// StaticProvider reads a full snapshot from one YAML seed file. It backs
// local development and the test suites; production deployments load from
// the configuration database instead.
type StaticProvider struct {
	path string
}

func NewStaticProvider(path string) *StaticProvider {
	return &StaticProvider{path: path}
}

func (p *StaticProvider) Load(ctx context.Context) (*Snapshot, error) {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read config seed %s: %w", p.path, err)
	}
	return ParseSnapshot(raw)
}

// ParseSnapshot decodes and validates a YAML snapshot document.
func ParseSnapshot(raw []byte) (*Snapshot, error) {
	var s Snapshot
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse config seed: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("config seed rejected: %w", err)
	}
	s.LoadedAt = time.Now()
	return &s, nil
}
