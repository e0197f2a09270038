package model

import "time"

// Scene is one named element tree. Scenes are authored as YAML files or
// stored in the catalog and scheduled by name.
type Scene struct {
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Tree        *Element  `json:"tree" yaml:"tree"`
	CreatedAt   time.Time `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at,omitempty" yaml:"-"`
}
