package catalog

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileDocument is the on-disk catalog layout:
//
//	laboratories:
//	  - id: L1
//	    name: Optics bench
//	    capacity: 2
//	    duration: 30m
//	    hardware:
//	      - id: bench-1
//	        address: 10.0.0.11
type fileDocument struct {
	Laboratories []fileLaboratory `yaml:"laboratories"`
}

type fileLaboratory struct {
	ID       string     `yaml:"id"`
	Name     string     `yaml:"name"`
	Capacity int        `yaml:"capacity"`
	Duration string     `yaml:"duration"`
	Hardware []Hardware `yaml:"hardware"`
}

// LoadFile reads and validates the YAML catalog at path.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog document. Unknown fields are rejected.
func Parse(data []byte) (*Static, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var doc fileDocument
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	labs := make([]Laboratory, 0, len(doc.Laboratories))
	for _, entry := range doc.Laboratories {
		duration, err := time.ParseDuration(entry.Duration)
		if err != nil {
			return nil, fmt.Errorf("%w: laboratory %q duration %q: %v", ErrInvalid, entry.ID, entry.Duration, err)
		}
		name := entry.Name
		if name == "" {
			name = entry.ID
		}
		labs = append(labs, Laboratory{
			ID:       entry.ID,
			Name:     name,
			Capacity: entry.Capacity,
			Duration: duration,
			Hardware: entry.Hardware,
		})
	}
	return NewStatic(labs...)
}
