// Package navigation loads the portal's navigation tree.
package navigation

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed navigation.yaml
var defaultNavigation []byte

// Item is a single navigation link
type Item struct {
	ID      string   `yaml:"id" json:"id"`
	Title   string   `yaml:"title" json:"title"`
	Path    string   `yaml:"path" json:"path"`
	Icon    string   `yaml:"icon,omitempty" json:"icon,omitempty"`
	Roles   []string `yaml:"roles,omitempty" json:"-"`
	Feature string   `yaml:"feature,omitempty" json:"-"`
}

// Section groups related items
type Section struct {
	ID    string   `yaml:"id" json:"id"`
	Title string   `yaml:"title" json:"title"`
	Roles []string `yaml:"roles,omitempty" json:"-"`
	Items []Item   `yaml:"items" json:"items"`
}

// Tree is the whole navigation
type Tree struct {
	Sections []Section `yaml:"sections" json:"sections"`
}

// Default returns the built-in navigation
func Default() (*Tree, error) {
	return Parse(defaultNavigation)
}

// Load reads a navigation file
func Load(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read navigation file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a navigation document
func Parse(data []byte) (*Tree, error) {
	var tree Tree
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse navigation: %w", err)
	}
	if err := tree.Validate(); err != nil {
		return nil, err
	}
	return &tree, nil
}

// Validate checks that every section and item has an ID, a title, and that
// item IDs are unique
func (t *Tree) Validate() error {
	seen := make(map[string]bool)
	for i, s := range t.Sections {
		if s.ID == "" || s.Title == "" {
			return fmt.Errorf("navigation section %d: id and title are required", i)
		}
		for _, item := range s.Items {
			if item.ID == "" || item.Title == "" || item.Path == "" {
				return fmt.Errorf("navigation section %q: item id, title and path are required", s.ID)
			}
			if seen[item.ID] {
				return fmt.Errorf("navigation item %q defined twice", item.ID)
			}
			seen[item.ID] = true
		}
	}
	return nil
}

// For returns the tree visible to role with the given features enabled.
// Sections left without items are dropped.
func (t *Tree) For(role string, features map[string]bool) *Tree {
	out := &Tree{Sections: []Section{}}
	for _, s := range t.Sections {
		if !allowed(s.Roles, role) {
			continue
		}
		visible := Section{ID: s.ID, Title: s.Title, Roles: s.Roles}
		for _, item := range s.Items {
			if !allowed(item.Roles, role) {
				continue
			}
			if item.Feature != "" && !features[item.Feature] {
				continue
			}
			visible.Items = append(visible.Items, item)
		}
		if len(visible.Items) > 0 {
			out.Sections = append(out.Sections, visible)
		}
	}
	return out
}

func allowed(roles []string, role string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
