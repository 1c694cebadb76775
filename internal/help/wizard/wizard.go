// Package wizard implements the three step request selection flow:
// category, then action, then the details form.
//
// The step is never stored. It is recomputed from which of the two
// identifiers are present, so a selection decoded from a URL lands on the
// same step as one built by calling the transitions in order.
package wizard

import (
	"errors"
	"net/url"
	"strings"

	"neighborly/internal/help/taxonomy"
)

// Step is the position in the wizard.
type Step int

const (
	StepCategory Step = iota + 1
	StepAction
	StepDetails
)

func (s Step) String() string {
	switch s {
	case StepCategory:
		return "category_selection"
	case StepAction:
		return "action_selection"
	case StepDetails:
		return "details_form"
	default:
		return "unknown"
	}
}

// Query parameter names carrying the selection.
const (
	ParamCategory = "categoryId"
	ParamAction   = "actionId"
)

var (
	ErrWrongStep       = errors.New("wizard: transition not allowed at this step")
	ErrUnknownCategory = errors.New("wizard: unknown category")
	ErrUnknownAction   = errors.New("wizard: action not available in category")
)

// Selection is the whole wizard state.
type Selection struct {
	CategoryID string `json:"categoryId,omitempty"`
	ActionID   string `json:"actionId,omitempty"`
}

// StepOf derives the step from the identifiers present.
func StepOf(sel Selection) Step {
	switch {
	case sel.CategoryID == "":
		return StepCategory
	case sel.ActionID == "":
		return StepAction
	default:
		return StepDetails
	}
}

// Decode reads a selection from query parameters.
func Decode(q url.Values) Selection {
	return Selection{
		CategoryID: strings.TrimSpace(q.Get(ParamCategory)),
		ActionID:   strings.TrimSpace(q.Get(ParamAction)),
	}
}

// Encode writes the selection as query parameters, omitting absent ids.
func Encode(sel Selection) url.Values {
	q := url.Values{}
	if sel.CategoryID != "" {
		q.Set(ParamCategory, sel.CategoryID)
	}
	if sel.ActionID != "" {
		q.Set(ParamAction, sel.ActionID)
	}
	return q
}

// State is a selection resolved against the taxonomy.
type State struct {
	Step       Step                `json:"step"`
	StepName   string              `json:"step_name"`
	Selection  Selection           `json:"selection"`
	Category   *taxonomy.Category  `json:"category,omitempty"`
	Action     *taxonomy.Action    `json:"action,omitempty"`
	Resolution taxonomy.Resolution `json:"-"`
}

// Wizard applies transitions against a taxonomy table.
type Wizard struct {
	table *taxonomy.Table
}

func New(table *taxonomy.Table) *Wizard {
	return &Wizard{table: table}
}

// SelectCategory moves from category selection to action selection. Stale
// identifiers are dropped first, so the step checked is the one Resolve
// reports for the same selection.
func (w *Wizard) SelectCategory(sel Selection, categoryID string) (Selection, error) {
	sel = w.Normalize(sel)
	if StepOf(sel) != StepCategory {
		return sel, ErrWrongStep
	}
	if _, ok := w.table.Category(categoryID); !ok {
		return sel, ErrUnknownCategory
	}
	return Selection{CategoryID: categoryID}, nil
}

// SelectAction moves from action selection to the details form. The id must
// be listed under the chosen category or be one of the custom ids.
func (w *Wizard) SelectAction(sel Selection, actionID string) (Selection, error) {
	sel = w.Normalize(sel)
	if StepOf(sel) != StepAction {
		return sel, ErrWrongStep
	}
	if !w.table.ResolveAction(sel.CategoryID, actionID).Resolved() {
		return sel, ErrUnknownAction
	}
	return Selection{CategoryID: sel.CategoryID, ActionID: actionID}, nil
}

// Back drops the innermost identifier. From category selection it reports
// exit so the caller can leave the wizard.
func (w *Wizard) Back(sel Selection) (next Selection, exit bool) {
	sel = w.Normalize(sel)
	switch StepOf(sel) {
	case StepDetails:
		return Selection{CategoryID: sel.CategoryID}, false
	case StepAction:
		return Selection{}, false
	default:
		return Selection{}, true
	}
}

// Normalize discards identifiers the table cannot resolve, so a hand-edited
// URL degrades to the nearest valid step instead of failing.
func (w *Wizard) Normalize(sel Selection) Selection {
	if sel.CategoryID == "" {
		return Selection{}
	}
	if _, ok := w.table.Category(sel.CategoryID); !ok {
		return Selection{}
	}
	if sel.ActionID != "" && !w.table.ResolveAction(sel.CategoryID, sel.ActionID).Resolved() {
		return Selection{CategoryID: sel.CategoryID}
	}
	return sel
}

// Resolve normalizes the selection and attaches the category and action.
func (w *Wizard) Resolve(sel Selection) State {
	sel = w.Normalize(sel)
	step := StepOf(sel)
	st := State{Step: step, StepName: step.String(), Selection: sel}
	if c, ok := w.table.Category(sel.CategoryID); ok {
		st.Category = &c
	}
	if sel.ActionID != "" {
		st.Resolution = w.table.ResolveAction(sel.CategoryID, sel.ActionID)
		a := st.Resolution.Action
		st.Action = &a
	}
	return st
}
