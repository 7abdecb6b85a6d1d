// Package feature describes the optional capabilities an agent can be given
// and turns a catalog of them into the schema and prompt an interview offers
// the model.
package feature

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nidhogg/agent-interview/internal/agent"
	"github.com/nidhogg/agent-interview/internal/schema"
)

// ErrUnknownFeature is returned when a requested feature is not in the catalog.
var ErrUnknownFeature = errors.New("invalid features specified")

// Spec describes one feature. Parameters maps parameter names to their JSON
// schema.
type Spec struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Parameters  map[string]json.RawMessage `json:"parameters"`
	Examples    []json.RawMessage          `json:"examples,omitempty"`
	Dev         bool                       `json:"dev,omitempty"`
}

// Registry supplies the feature catalog.
type Registry interface {
	Features(ctx context.Context) ([]Spec, error)
}

// Snapshot wraps a registry and serves its first successful result forever.
type Snapshot struct {
	source Registry

	mu    sync.Mutex
	specs []Spec
}

// NewSnapshot caches source.
func NewSnapshot(source Registry) *Snapshot {
	return &Snapshot{source: source}
}

func (s *Snapshot) Features(ctx context.Context) ([]Spec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.specs != nil {
		return s.specs, nil
	}
	specs, err := s.source.Features(ctx)
	if err != nil {
		return nil, err
	}
	s.specs = specs
	return specs, nil
}

// Set is the group of features offered to one interview.
type Set struct {
	offered  []Spec
	allowAll bool
	schema   schema.Doc
}

// Build selects the offered features. With no selection every catalog entry
// is offered; otherwise only the selected ones, and every selected name must
// exist in the catalog.
func Build(catalog []Spec, selected []string) (*Set, error) {
	byName := make(map[string]Spec, len(catalog))
	for _, s := range catalog {
		byName[s.Name] = s
	}

	set := &Set{allowAll: len(selected) == 0}
	if set.allowAll {
		set.offered = append([]Spec(nil), catalog...)
	} else {
		var unknown []string
		seen := make(map[string]bool, len(selected))
		for _, name := range selected {
			if seen[name] {
				continue
			}
			seen[name] = true
			s, ok := byName[name]
			if !ok {
				unknown = append(unknown, name)
				continue
			}
			set.offered = append(set.offered, s)
		}
		if len(unknown) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFeature, strings.Join(unknown, ", "))
		}
	}

	doc, err := set.buildSchema()
	if err != nil {
		return nil, err
	}
	set.schema = doc
	return set, nil
}

func (s *Set) buildSchema() (schema.Doc, error) {
	props := make(map[string]schema.Doc, len(s.offered))
	for _, spec := range s.offered {
		obj, err := schema.ParamsSchema(spec.Parameters)
		if err != nil {
			return nil, fmt.Errorf("feature %s: %w", spec.Name, err)
		}
		if spec.Description != "" {
			obj["description"] = firstLine(spec.Description)
		}
		props[spec.Name] = schema.Nullable(obj)
	}
	return schema.Closed(schema.Object(props)), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Schema is the object schema of the features map. Every feature is
// optional and the map is closed to names outside the set.
func (s *Set) Schema() schema.Doc { return s.schema }

// Has reports whether name is offered.
func (s *Set) Has(name string) bool {
	for _, spec := range s.offered {
		if spec.Name == name {
			return true
		}
	}
	return false
}

// Restrict drops feature entries that are null or not offered. It returns
// the filtered update and the names it dropped for not being offered.
func (s *Set) Restrict(u agent.Update) (agent.Update, []string) {
	u = agent.WithoutNullFeatures(u)
	var dropped []string
	for name := range u.Features {
		if !s.Has(name) {
			dropped = append(dropped, name)
			delete(u.Features, name)
		}
	}
	if len(u.Features) == 0 {
		u.Features = nil
	}
	sort.Strings(dropped)
	return u, dropped
}

// AllowAll reports whether the whole catalog is offered.
func (s *Set) AllowAll() bool { return s.allowAll }

// Names lists the offered feature names, sorted.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.offered))
	for _, spec := range s.offered {
		names = append(names, spec.Name)
	}
	sort.Strings(names)
	return names
}

// Offered returns the offered specs in catalog order.
func (s *Set) Offered() []Spec { return s.offered }

// Prompt renders the feature section of the interview system prompt.
func (s *Set) Prompt() string {
	var b strings.Builder
	if s.allowAll {
		b.WriteString("The available features are:\n")
	} else {
		b.WriteString("The agent is given the following features:\n")
	}
	for _, spec := range s.offered {
		fmt.Fprintf(&b, "# %s\n%s\n\n", spec.Name, strings.TrimSpace(spec.Description))
	}
	return b.String()
}

// CheckParams validates caller-supplied feature values against catalog.
// Every name must exist in the catalog; null values, which remove a
// feature, are not checked.
func CheckParams(catalog []Spec, features map[string]json.RawMessage) error {
	byName := make(map[string]Spec, len(catalog))
	for _, s := range catalog {
		byName[s.Name] = s
	}
	names := make([]string, 0, len(features))
	var unknown []string
	for name := range features {
		if _, ok := byName[name]; !ok {
			unknown = append(unknown, name)
			continue
		}
		names = append(names, name)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: %s", ErrUnknownFeature, strings.Join(unknown, ", "))
	}
	sort.Strings(names)
	for _, name := range names {
		value := features[name]
		if len(value) == 0 || string(value) == "null" {
			continue
		}
		if err := schema.ValidateParams(name, byName[name].Parameters, value); err != nil {
			return err
		}
	}
	return nil
}
