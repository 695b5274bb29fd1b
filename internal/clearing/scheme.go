// Package clearing posts mapped messages to clearing-system endpoints and
// decodes their acknowledgement envelope. All outbound calls run through the
// resilience registry under the "clearing-system" service; when the chain
// gives up, a synthetic rejection Ack substitutes for the answer so the flow
// can emit a fallback acknowledgement instead of an error page.
package clearing

import (
	"strings"
	"sync"
)

// Format selects the wire encoding of the request body. The response
// envelope is always JSON regardless of request format.
type Format string

const (
	FormatJSON Format = "JSON"
	FormatXML  Format = "XML"
)

// Scheme describes one clearing-system integration target.
type Scheme struct {
	Name     string `json:"name" yaml:"name"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	Format   Format `json:"format" yaml:"format"`
}

// Directory holds the registered schemes, keyed by upper-cased name.
type Directory struct {
	mu      sync.RWMutex
	schemes map[string]Scheme
}

func NewDirectory(schemes ...Scheme) *Directory {
	d := &Directory{schemes: make(map[string]Scheme, len(schemes))}
	for _, s := range schemes {
		d.Register(s)
	}
	return d
}

// Register adds or replaces a scheme. An empty Format defaults to JSON.
func (d *Directory) Register(s Scheme) {
	if s.Format == "" {
		s.Format = FormatJSON
	}
	d.mu.Lock()
	d.schemes[strings.ToUpper(s.Name)] = s
	d.mu.Unlock()
}

// Scheme looks up a clearing system by name, case-insensitively.
func (d *Directory) Scheme(name string) (Scheme, bool) {
	d.mu.RLock()
	s, ok := d.schemes[strings.ToUpper(name)]
	d.mu.RUnlock()
	return s, ok
}

// Names lists the registered scheme names.
func (d *Directory) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.schemes))
	for _, s := range d.schemes {
		names = append(names, s.Name)
	}
	return names
}
