// Package taxonomy holds the static category/action table that drives the
// request wizard. The table is parsed once at start-up and shared read-only.
package taxonomy

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// RequestType tells whether an action lends an item or asks for a service.
type RequestType string

const (
	TypeItem    RequestType = "item"
	TypeService RequestType = "service"
)

// Fallback branding used when a category id is not in the table.
const (
	FallbackIcon        = "clock"
	FallbackColor       = "bg-brand-green"
	FallbackBorderColor = "border-brand-green"
)

// priorityActions is the size of the "commonly requested" shortlist.
const priorityActions = 3

//go:embed taxonomy.yaml
var defaultTable []byte

// Action is a requestable task or item inside a category.
type Action struct {
	ID    string      `yaml:"id" json:"id"`
	Label string      `yaml:"label" json:"label"`
	Type  RequestType `yaml:"type" json:"type"`
	Tag   string      `yaml:"tag" json:"tag"`
}

// Category groups actions and carries the display tokens for them.
type Category struct {
	ID              string   `yaml:"id" json:"id"`
	Label           string   `yaml:"label" json:"label"`
	Icon            string   `yaml:"icon" json:"icon"`
	Color           string   `yaml:"color" json:"color"`
	BorderColor     string   `yaml:"border_color" json:"border_color"`
	RequiresProfile bool     `yaml:"requires_profile" json:"requires_profile"`
	Actions         []Action `yaml:"actions" json:"actions"`
}

// Branding is the display subset of a category, with fallbacks applied.
type Branding struct {
	Label       string `json:"label"`
	Icon        string `json:"icon"`
	Color       string `json:"color"`
	BorderColor string `json:"border_color"`
}

// Table is the immutable taxonomy. Construct it with Load, Default or
// LoadFile and pass the pointer to every consumer.
type Table struct {
	categories []Category
	byID       map[string]int
}

type document struct {
	Categories []Category `yaml:"categories"`
}

// Default parses the embedded table.
func Default() (*Table, error) {
	return Load(defaultTable)
}

// LoadFile parses a table from a YAML file. An empty path yields Default.
func LoadFile(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: read %s: %w", path, err)
	}
	return Load(data)
}

// Load parses and validates a YAML taxonomy document.
func Load(data []byte) (*Table, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("taxonomy: parse: %w", err)
	}
	if len(doc.Categories) == 0 {
		return nil, errors.New("taxonomy: no categories defined")
	}

	t := &Table{
		categories: doc.Categories,
		byID:       make(map[string]int, len(doc.Categories)),
	}
	for i, c := range doc.Categories {
		if c.ID == "" {
			return nil, fmt.Errorf("taxonomy: category #%d has no id", i)
		}
		if _, dup := t.byID[c.ID]; dup {
			return nil, fmt.Errorf("taxonomy: duplicate category id %q", c.ID)
		}
		if len(c.Actions) == 0 {
			return nil, fmt.Errorf("taxonomy: category %q has no actions", c.ID)
		}
		seen := make(map[string]struct{}, len(c.Actions))
		for _, a := range c.Actions {
			if a.ID == "" {
				return nil, fmt.Errorf("taxonomy: category %q has an action without id", c.ID)
			}
			if IsCustom(a.ID) {
				return nil, fmt.Errorf("taxonomy: action id %q is reserved", a.ID)
			}
			if _, dup := seen[a.ID]; dup {
				return nil, fmt.Errorf("taxonomy: duplicate action id %q in %q", a.ID, c.ID)
			}
			if a.Type != TypeItem && a.Type != TypeService {
				return nil, fmt.Errorf("taxonomy: action %q has invalid type %q", a.ID, a.Type)
			}
			seen[a.ID] = struct{}{}
		}
		t.byID[c.ID] = i
	}
	return t, nil
}

// Categories returns the categories in table order.
func (t *Table) Categories() []Category {
	out := make([]Category, len(t.categories))
	copy(out, t.categories)
	return out
}

// Category looks a category up by id.
func (t *Table) Category(id string) (Category, bool) {
	i, ok := t.byID[id]
	if !ok {
		return Category{}, false
	}
	return t.categories[i], true
}

// Branding returns display tokens for a category id, degrading to the
// fallback icon and colors for ids the table does not know.
func (t *Table) Branding(categoryID string) Branding {
	c, ok := t.Category(categoryID)
	if !ok {
		return Branding{Icon: FallbackIcon, Color: FallbackColor, BorderColor: FallbackBorderColor}
	}
	b := Branding{Label: c.Label, Icon: c.Icon, Color: c.Color, BorderColor: c.BorderColor}
	if b.Icon == "" {
		b.Icon = FallbackIcon
	}
	if b.Color == "" {
		b.Color = FallbackColor
	}
	if b.BorderColor == "" {
		b.BorderColor = FallbackBorderColor
	}
	return b
}

// ActionLabel returns the label of an action listed under categoryID, or ""
// when either id is unknown. Synthetic actions have no table label.
func (t *Table) ActionLabel(categoryID, actionID string) string {
	c, ok := t.Category(categoryID)
	if !ok {
		return ""
	}
	if a, ok := c.Action(actionID); ok {
		return a.Label
	}
	return ""
}

// Action finds an action in the category's list.
func (c Category) Action(id string) (Action, bool) {
	for _, a := range c.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

// SearchActions filters actions by a case-insensitive label substring. An
// empty query yields the commonly requested shortlist.
func (c Category) SearchActions(query string) []Action {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		n := priorityActions
		if len(c.Actions) < n {
			n = len(c.Actions)
		}
		out := make([]Action, n)
		copy(out, c.Actions[:n])
		return out
	}
	var out []Action
	for _, a := range c.Actions {
		if strings.Contains(strings.ToLower(a.Label), q) {
			out = append(out, a)
		}
	}
	return out
}
