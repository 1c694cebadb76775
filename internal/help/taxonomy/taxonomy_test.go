package taxonomy

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)

	cats := table.Categories()
	require.Len(t, cats, 8)
	for _, c := range cats {
		require.NotEmpty(t, c.Actions, "category %s", c.ID)
		for _, a := range c.Actions {
			require.Contains(t, []RequestType{TypeItem, TypeService}, a.Type)
		}
	}

	pet, ok := table.Category("pet_care")
	require.True(t, ok)
	require.True(t, pet.RequiresProfile)

	home, ok := table.Category("home_repair")
	require.True(t, ok)
	require.False(t, home.RequiresProfile)
}

func TestResolveAction(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)

	tests := map[string]struct {
		category string
		action   string
		kind     ResolutionKind
		want     Action
	}{
		"listed action": {
			category: "home_repair",
			action:   "borrow_drill",
			kind:     Found,
			want:     Action{ID: "borrow_drill", Label: "Borrow a Drill", Type: TypeItem, Tag: "Drill"},
		},
		"custom service without category": {
			action: "custom_service",
			kind:   Synthetic,
			want:   Action{ID: "custom_service", Label: "Custom Service", Type: TypeService, Tag: "Custom"},
		},
		"custom item inside category": {
			category: "pet_care",
			action:   "custom_item",
			kind:     Synthetic,
			want:     Action{ID: "custom_item", Label: "Custom Item", Type: TypeItem, Tag: "Custom"},
		},
		"action from another category": {
			category: "pet_care",
			action:   "borrow_drill",
			kind:     Unresolved,
		},
		"unknown category": {
			category: "nope",
			action:   "quick_walk",
			kind:     Unresolved,
		},
		"empty action": {
			category: "pet_care",
			kind:     Unresolved,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			res := table.ResolveAction(tc.category, tc.action)
			require.Equal(t, tc.kind, res.Kind)
			require.Equal(t, tc.kind != Unresolved, res.Resolved())
			if diff := cmp.Diff(tc.want, res.Action); diff != "" {
				t.Fatalf("action mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// Every reachable pair maps to exactly one of the two request types.
func TestEveryActionHasSingleType(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)
	for _, c := range table.Categories() {
		for _, a := range c.Actions {
			res := table.ResolveAction(c.ID, a.ID)
			require.Equal(t, Found, res.Kind)
			isItem := res.Action.Type == TypeItem
			isService := res.Action.Type == TypeService
			require.True(t, isItem != isService, "%s/%s", c.ID, a.ID)
		}
	}
}

func TestBrandingFallback(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)

	b := table.Branding("unknown")
	require.Equal(t, Branding{Icon: FallbackIcon, Color: FallbackColor, BorderColor: FallbackBorderColor}, b)

	b = table.Branding("tech_devices")
	require.Equal(t, "Tech & Devices", b.Label)
	require.Equal(t, "bg-indigo-600", b.Color)

	require.Equal(t, "Quick Walk", table.ActionLabel("pet_care", "quick_walk"))
	require.Equal(t, "", table.ActionLabel("pet_care", "custom_service"))
	require.Equal(t, "", table.ActionLabel("missing", "quick_walk"))
}

func TestSearchActions(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)
	home, _ := table.Category("home_repair")

	short := home.SearchActions("  ")
	require.Len(t, short, 3)
	require.Equal(t, "furniture_assembly", short[0].ID)

	found := home.SearchActions("BORROW")
	ids := make([]string, 0, len(found))
	for _, a := range found {
		ids = append(ids, a.ID)
	}
	require.Equal(t, []string{"borrow_drill", "borrow_ladder", "stud_finder"}, ids)

	require.Empty(t, home.SearchActions("spaceship"))
}

func TestLoadRejectsBadTables(t *testing.T) {
	cases := map[string]string{
		"empty":          "categories: []",
		"no actions":     "categories:\n  - id: a\n    label: A\n",
		"duplicate cat":  "categories:\n  - id: a\n    actions: [{id: x, type: item}]\n  - id: a\n    actions: [{id: y, type: item}]\n",
		"bad type":       "categories:\n  - id: a\n    actions: [{id: x, type: thing}]\n",
		"reserved id":    "categories:\n  - id: a\n    actions: [{id: custom_item, type: item}]\n",
		"dup action":     "categories:\n  - id: a\n    actions: [{id: x, type: item}, {id: x, type: service}]\n",
		"missing cat id": "categories:\n  - label: A\n    actions: [{id: x, type: item}]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(doc))
			require.Error(t, err)
		})
	}
}
