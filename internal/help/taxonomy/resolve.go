package taxonomy

// CustomKind names one of the synthetic actions that live outside the table.
type CustomKind string

const (
	CustomService CustomKind = "custom_service"
	CustomItem    CustomKind = "custom_item"
)

// CustomTag is the subject tag persisted for synthetic actions.
const CustomTag = "Custom"

// ResolutionKind discriminates Resolution.
type ResolutionKind int

const (
	Unresolved ResolutionKind = iota
	Found
	Synthetic
)

func (k ResolutionKind) String() string {
	switch k {
	case Found:
		return "found"
	case Synthetic:
		return "synthetic"
	default:
		return "unresolved"
	}
}

// Resolution is the result of an action lookup: Found(Action),
// Synthetic(CustomKind) or Unresolved.
type Resolution struct {
	Kind   ResolutionKind
	Action Action
	Custom CustomKind
}

// Resolved reports whether the lookup produced a usable action.
func (r Resolution) Resolved() bool {
	return r.Kind != Unresolved
}

// IsCustom reports whether id is one of the synthetic action ids.
func IsCustom(id string) bool {
	return id == string(CustomService) || id == string(CustomItem)
}

// SyntheticAction builds the ad hoc action record for a custom kind.
func SyntheticAction(kind CustomKind) Action {
	if kind == CustomItem {
		return Action{ID: string(CustomItem), Label: "Custom Item", Type: TypeItem, Tag: CustomTag}
	}
	return Action{ID: string(CustomService), Label: "Custom Service", Type: TypeService, Tag: CustomTag}
}

// ResolveAction looks actionID up in the category's list first and falls
// back to the synthetic custom actions. Synthetic ids resolve even without a
// known category.
func (t *Table) ResolveAction(categoryID, actionID string) Resolution {
	if actionID == "" {
		return Resolution{Kind: Unresolved}
	}
	if c, ok := t.Category(categoryID); ok {
		if a, ok := c.Action(actionID); ok {
			return Resolution{Kind: Found, Action: a}
		}
	}
	if IsCustom(actionID) {
		kind := CustomKind(actionID)
		return Resolution{Kind: Synthetic, Action: SyntheticAction(kind), Custom: kind}
	}
	return Resolution{Kind: Unresolved}
}
