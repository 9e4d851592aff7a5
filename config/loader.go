package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Loader reads an inventory file.
type Loader struct {
	filePath string
}

// NewLoader creates a loader for filePath.
func NewLoader(filePath string) *Loader {
	return &Loader{filePath: filePath}
}

// Load reads, decodes, defaults and validates the inventory. Unknown keys are rejected.
func (l *Loader) Load() (*Inventory, error) {
	if l.filePath == "" {
		return nil, fmt.Errorf("inventory file path is empty")
	}
	content, err := os.ReadFile(l.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file '%s': %w", l.filePath, err)
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, fmt.Errorf("inventory file '%s' is empty", l.filePath)
	}

	var inv Inventory
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&inv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal inventory YAML from '%s': %w", l.filePath, err)
	}

	SetDefaults(&inv)
	if err := inv.Validate(); err != nil {
		return nil, fmt.Errorf("inventory validation failed in '%s': %w", l.filePath, err)
	}
	return &inv, nil
}

// Load is shorthand for NewLoader(path).Load().
func Load(path string) (*Inventory, error) {
	return NewLoader(path).Load()
}
