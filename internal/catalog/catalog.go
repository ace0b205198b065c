// Package catalog supplies laboratory capacity, session duration and hardware
// addresses. The admission core only reads it.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrNotFound is returned when a laboratory id is unknown.
	ErrNotFound = errors.New("catalog: laboratory not found")
	// ErrInvalid is returned when a catalog document fails validation.
	ErrInvalid = errors.New("catalog: invalid catalog")
	// ErrNoHardware is returned when a laboratory has no hardware to bind.
	ErrNoHardware = errors.New("catalog: no hardware available")
)

// Hardware is one physical unit a session can be bound to.
type Hardware struct {
	ID      string `json:"id" yaml:"id"`
	Address string `json:"address" yaml:"address"`
}

// Laboratory describes one admission-controlled resource.
type Laboratory struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Capacity int           `json:"capacity"`
	Duration time.Duration `json:"duration"`
	Hardware []Hardware    `json:"hardware"`
}

// Catalog answers the questions the admission coordinator asks about a laboratory.
type Catalog interface {
	Exists(ctx context.Context, labID string) (bool, error)
	Capacity(ctx context.Context, labID string) (int, error)
	Duration(ctx context.Context, labID string) (time.Duration, error)
	Lookup(ctx context.Context, labID string) (Laboratory, error)
	List(ctx context.Context) ([]Laboratory, error)
}

// Static is an immutable catalog snapshot.
type Static struct {
	labs map[string]Laboratory
}

var _ Catalog = (*Static)(nil)

// NewStatic validates labs and returns a snapshot of them.
func NewStatic(labs ...Laboratory) (*Static, error) {
	index := make(map[string]Laboratory, len(labs))
	for _, lab := range labs {
		if err := validate(lab); err != nil {
			return nil, err
		}
		if _, ok := index[lab.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate laboratory %q", ErrInvalid, lab.ID)
		}
		index[lab.ID] = cloneLaboratory(lab)
	}
	return &Static{labs: index}, nil
}

func (s *Static) Exists(_ context.Context, labID string) (bool, error) {
	_, ok := s.labs[labID]
	return ok, nil
}

func (s *Static) Capacity(ctx context.Context, labID string) (int, error) {
	lab, err := s.Lookup(ctx, labID)
	if err != nil {
		return 0, err
	}
	return lab.Capacity, nil
}

func (s *Static) Duration(ctx context.Context, labID string) (time.Duration, error) {
	lab, err := s.Lookup(ctx, labID)
	if err != nil {
		return 0, err
	}
	return lab.Duration, nil
}

func (s *Static) Lookup(_ context.Context, labID string) (Laboratory, error) {
	lab, ok := s.labs[labID]
	if !ok {
		return Laboratory{}, ErrNotFound
	}
	return cloneLaboratory(lab), nil
}

// List returns every laboratory ordered by ID.
func (s *Static) List(context.Context) ([]Laboratory, error) {
	labs := make([]Laboratory, 0, len(s.labs))
	for _, lab := range s.labs {
		labs = append(labs, cloneLaboratory(lab))
	}
	sort.Slice(labs, func(i, j int) bool { return labs[i].ID < labs[j].ID })
	return labs, nil
}

func validate(lab Laboratory) error {
	switch {
	case lab.ID == "":
		return fmt.Errorf("%w: laboratory id is required", ErrInvalid)
	case lab.Capacity < 1:
		return fmt.Errorf("%w: laboratory %q capacity must be positive", ErrInvalid, lab.ID)
	case lab.Duration <= 0:
		return fmt.Errorf("%w: laboratory %q duration must be positive", ErrInvalid, lab.ID)
	case len(lab.Hardware) == 0:
		return fmt.Errorf("%w: laboratory %q lists no hardware", ErrInvalid, lab.ID)
	}
	seen := make(map[string]struct{}, len(lab.Hardware))
	for _, hw := range lab.Hardware {
		if hw.ID == "" {
			return fmt.Errorf("%w: laboratory %q has hardware without id", ErrInvalid, lab.ID)
		}
		if _, ok := seen[hw.ID]; ok {
			return fmt.Errorf("%w: laboratory %q repeats hardware %q", ErrInvalid, lab.ID, hw.ID)
		}
		seen[hw.ID] = struct{}{}
	}
	return nil
}

func cloneLaboratory(lab Laboratory) Laboratory {
	hardware := make([]Hardware, len(lab.Hardware))
	copy(hardware, lab.Hardware)
	lab.Hardware = hardware
	return lab
}
