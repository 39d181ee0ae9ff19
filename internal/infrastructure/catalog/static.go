// Package catalog loads the content catalog from YAML.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/habit-engine/internal/domain/catalog"
	"github.com/alem-hub/habit-engine/internal/domain/habit"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// file is the on-disk layout of a catalog file.
type file struct {
	Activities []activityEntry `yaml:"activities"`
	Routines   []routineEntry  `yaml:"routines"`
}

type activityEntry struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Points int64  `yaml:"points"`
	Slot   string `yaml:"slot"`
}

type routineEntry struct {
	ID          string                  `yaml:"id"`
	Name        string                  `yaml:"name"`
	Description string                  `yaml:"description"`
	Activities  []habit.RoutineActivity `yaml:"activities"`
}

// Static is an immutable catalog.Catalog held in memory.
type Static struct {
	activities map[shared.ActivityID]catalog.Activity
	routines   map[shared.RoutineID]catalog.Routine
}

var _ catalog.Catalog = (*Static)(nil)

// Default returns the built-in catalog.
func Default() *Static {
	s, err := Parse(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("catalog: built-in catalog is invalid: %v", err))
	}
	return s
}

// Load reads a catalog file from path.
func Load(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return s, nil
}

// Parse builds a catalog from YAML and validates it.
func Parse(data []byte) (*Static, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	s := &Static{
		activities: make(map[shared.ActivityID]catalog.Activity, len(f.Activities)),
		routines:   make(map[shared.RoutineID]catalog.Routine, len(f.Routines)),
	}

	for _, a := range f.Activities {
		id, err := shared.NewActivityID(a.ID)
		if err != nil {
			return nil, fmt.Errorf("activity %q: %w", a.ID, err)
		}
		if _, dup := s.activities[id]; dup {
			return nil, fmt.Errorf("activity %q: %w", a.ID, shared.ErrAlreadyExists)
		}
		if a.Points < 0 {
			return nil, fmt.Errorf("activity %q: %w", a.ID, shared.ErrNegativePoints)
		}
		slot, err := habit.ParseTimeSlot(a.Slot)
		if err != nil {
			return nil, fmt.Errorf("activity %q: %w", a.ID, err)
		}
		s.activities[id] = catalog.Activity{ID: id, Name: a.Name, Points: a.Points, Slot: slot}
	}

	for _, r := range f.Routines {
		id, err := shared.NewRoutineID(r.ID)
		if err != nil {
			return nil, fmt.Errorf("routine %q: %w", r.ID, err)
		}
		if _, dup := s.routines[id]; dup {
			return nil, fmt.Errorf("routine %q: %w", r.ID, shared.ErrAlreadyExists)
		}
		if len(r.Activities) == 0 {
			return nil, fmt.Errorf("routine %q: %w", r.ID, shared.ErrEmptyRoutine)
		}
		members := make([]habit.RoutineActivity, len(r.Activities))
		for i, m := range r.Activities {
			if _, ok := s.activities[m.ActivityID]; !ok {
				return nil, fmt.Errorf("routine %q: activity %q: %w", r.ID, m.ActivityID, shared.ErrUnknownActivity)
			}
			if !m.TimeSlot.IsValid() {
				return nil, fmt.Errorf("routine %q: activity %q: %w", r.ID, m.ActivityID, shared.ErrInvalidTimeSlot)
			}
			members[i] = m
		}
		s.routines[id] = catalog.Routine{ID: id, Name: r.Name, Description: r.Description, Activities: members}
	}

	return s, nil
}

// Activity implements catalog.Catalog.
func (s *Static) Activity(id shared.ActivityID) (catalog.Activity, bool) {
	a, ok := s.activities[id]
	return a, ok
}

// Routine implements catalog.Catalog.
func (s *Static) Routine(id shared.RoutineID) (catalog.Routine, bool) {
	r, ok := s.routines[id]
	if !ok {
		return catalog.Routine{}, false
	}
	r.Activities = append([]habit.RoutineActivity(nil), r.Activities...)
	return r, true
}

// Activities returns every activity ordered by id.
func (s *Static) Activities() []catalog.Activity {
	out := make([]catalog.Activity, 0, len(s.activities))
	for _, a := range s.activities {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Routines returns every routine ordered by id.
func (s *Static) Routines() []catalog.Routine {
	out := make([]catalog.Routine, 0, len(s.routines))
	for _, r := range s.routines {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
