package persona

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store exposes persona retrieval for HTTP handlers and session setup.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Persona
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
func NewMemoryStore(items []Persona) *MemoryStore {
	return &MemoryStore{items: append([]Persona(nil), items...)}
}

// List returns the configured personas.
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Persona{}, false
}

type personaFile struct {
	Personas []Persona `yaml:"personas"`
}

// LoadFile reads a YAML persona list. Unknown keys are rejected so that typos
// surface at startup.
func LoadFile(path string) ([]Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML persona list.
func Parse(data []byte) ([]Persona, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file personaFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode persona file: %w", err)
	}
	if len(file.Personas) == 0 {
		return nil, errors.New("persona file defines no personas")
	}

	seen := make(map[string]bool, len(file.Personas))
	for i := range file.Personas {
		p := &file.Personas[i]
		p.ID = strings.TrimSpace(p.ID)
		p.Instructions = strings.TrimSpace(p.Instructions)
		if p.ID == "" {
			return nil, fmt.Errorf("persona #%d: id is required", i+1)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("persona %q defined twice", p.ID)
		}
		if p.Instructions == "" {
			return nil, fmt.Errorf("persona %q: instructions are required", p.ID)
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		seen[p.ID] = true
	}
	return file.Personas, nil
}
