// Package docs serves the portal's OpenAPI documents.
package docs

import (
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed specs/*.yaml
var specFS embed.FS

// ErrNotFound is returned for unknown documents
var ErrNotFound = errors.New("docs: document not found")

// Summary describes one document in the catalog
type Summary struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

// Catalog holds parsed OpenAPI documents by name
type Catalog struct {
	docs      map[string]map[string]interface{}
	summaries []Summary
}

// LoadCatalog parses the embedded documents
func LoadCatalog() (*Catalog, error) {
	entries, err := specFS.ReadDir("specs")
	if err != nil {
		return nil, err
	}

	c := &Catalog{docs: make(map[string]map[string]interface{})}
	for _, e := range entries {
		data, err := specFS.ReadFile(path.Join("specs", e.Name()))
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(e.Name(), path.Ext(e.Name()))
		if err := c.add(name, data); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) add(name string, data []byte) error {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	if _, ok := doc["openapi"]; !ok {
		return fmt.Errorf("%s is not an OpenAPI document", name)
	}

	info, _ := doc["info"].(map[string]interface{})
	s := Summary{Name: name}
	s.Title, _ = info["title"].(string)
	s.Version, _ = info["version"].(string)
	s.Description, _ = info["description"].(string)

	c.docs[name] = doc
	c.summaries = append(c.summaries, s)
	sort.Slice(c.summaries, func(i, j int) bool { return c.summaries[i].Name < c.summaries[j].Name })
	return nil
}

// List returns every document summary ordered by name
func (c *Catalog) List() []Summary {
	return append([]Summary(nil), c.summaries...)
}

// Get returns a document as a JSON-encodable tree
func (c *Catalog) Get(name string) (map[string]interface{}, error) {
	doc, ok := c.docs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return doc, nil
}
