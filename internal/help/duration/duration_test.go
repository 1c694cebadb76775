package duration

import (
	"errors"
	"testing"
	"time"

	"neighborly/internal/help/taxonomy"
)

func TestItemDuration(t *testing.T) {
	r := NewResolver(0, nil)
	cases := []struct {
		name   string
		pickup string
		ret    string
		want   int
		ok     bool
	}{
		{"two days", "2024-06-01", "2024-06-03", 2880, true},
		{"same day clamps to floor", "2024-06-01", "2024-06-01", 60, true},
		{"inverted clamps to floor", "2024-06-03", "2024-06-01", 60, true},
		{"missing return", "2024-06-01", "", 0, false},
		{"missing pickup", "", "2024-06-01", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok, err := r.Resolve(taxonomy.TypeItem, Input{Pickup: tc.pickup, Return: tc.ret})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ok != tc.ok || got != tc.want {
				t.Fatalf("expected (%d,%v) got (%d,%v)", tc.want, tc.ok, got, ok)
			}
		})
	}
}

func TestItemDurationMonotonic(t *testing.T) {
	r := NewResolver(60, nil)
	pickup := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	prev := 0
	for d := -3; d <= 10; d++ {
		got, ok := r.Item(pickup, pickup.AddDate(0, 0, d))
		if !ok {
			t.Fatalf("expected a value for offset %d", d)
		}
		if got < 60 {
			t.Fatalf("duration %d below floor", got)
		}
		if got < prev {
			t.Fatalf("duration decreased from %d to %d at offset %d", prev, got, d)
		}
		prev = got
	}
}

func TestServiceDuration(t *testing.T) {
	r := NewResolver(0, nil)
	for _, m := range []int{15, 30, 60, 90} {
		got, ok, err := r.Resolve(taxonomy.TypeService, Input{ServiceMinutes: m})
		if err != nil || !ok || got != m {
			t.Fatalf("expected echo of %d, got %d ok=%v err=%v", m, got, ok, err)
		}
	}
	if _, _, err := r.Resolve(taxonomy.TypeService, Input{ServiceMinutes: 45}); !errors.Is(err, ErrNotQuickPick) {
		t.Fatalf("expected ErrNotQuickPick, got %v", err)
	}
	if _, ok, err := r.Resolve(taxonomy.TypeService, Input{}); ok || err != nil {
		t.Fatalf("expected no value for empty service input")
	}
}

func TestBadDate(t *testing.T) {
	r := NewResolver(0, nil)
	if _, _, err := r.Resolve(taxonomy.TypeItem, Input{Pickup: "06/01/2024", Return: "2024-06-02"}); err == nil {
		t.Fatal("expected parse error")
	}
	if _, _, err := r.Resolve("bogus", Input{}); err == nil {
		t.Fatal("expected unknown type error")
	}
}
