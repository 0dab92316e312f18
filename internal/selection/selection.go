// Package selection holds the selection state and the pure transition
// functions that keep it consistent with mandatory-category minimums.
package selection

import (
	"fmt"

	"actionboard/internal/catalog"
	"actionboard/internal/domain"
)

// State is the canonical selection: a flat set of action ids plus the same
// ids grouped by category. Initialized records the mandatory categories that
// have reached their minimum at least once; from then on they never drop below it.
type State struct {
	Selected    domain.IDSet
	ByCategory  map[string]domain.IDSet
	Initialized domain.IDSet
}

func New() State {
	return State{
		Selected:    domain.IDSet{},
		ByCategory:  map[string]domain.IDSet{},
		Initialized: domain.IDSet{},
	}
}

// FromSnapshot hydrates a state from a persisted snapshot. Ids that are not
// part of their category in cat are dropped and the flat set is rebuilt from
// the per-category map, so a damaged snapshot still yields a consistent state.
func FromSnapshot(snap domain.SelectionSnapshot, cat *catalog.Catalog) State {
	s := New()
	for categoryID, ids := range snap.ByCategory {
		for _, id := range ids {
			if cat != nil && !cat.Contains(categoryID, id) {
				continue
			}
			s.add(categoryID, id)
		}
	}
	if len(snap.ByCategory) == 0 && cat != nil {
		// Older snapshots carry only the flat list.
		for _, id := range snap.Selected {
			if a, ok := cat.Action(id); ok {
				s.add(a.CategoryID, id)
			}
		}
	}
	if cat != nil {
		for _, category := range cat.Mandatory() {
			s.markInitialized(category)
		}
	}
	return s
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := State{
		Selected:    s.Selected.Clone(),
		ByCategory:  make(map[string]domain.IDSet, len(s.ByCategory)),
		Initialized: s.Initialized.Clone(),
	}
	for k, v := range s.ByCategory {
		out.ByCategory[k] = v.Clone()
	}
	if out.Selected == nil {
		out.Selected = domain.IDSet{}
	}
	if out.Initialized == nil {
		out.Initialized = domain.IDSet{}
	}
	return out
}

func (s *State) markInitialized(category domain.ActionCategory) {
	if required := category.Required(); required > 0 && SelectedCount(*s, category.ID) >= required {
		s.Initialized.Add(category.ID)
	}
}

func (s *State) add(categoryID, actionID string) {
	s.Selected.Add(actionID)
	set, ok := s.ByCategory[categoryID]
	if !ok {
		set = domain.IDSet{}
		s.ByCategory[categoryID] = set
	}
	set.Add(actionID)
}

func (s *State) remove(categoryID, actionID string) {
	s.Selected.Remove(actionID)
	if set, ok := s.ByCategory[categoryID]; ok {
		set.Remove(actionID)
	}
}

// Snapshot converts the state to its serializable form.
func (s State) Snapshot() domain.SelectionSnapshot {
	snap := domain.SelectionSnapshot{
		Selected:   s.Selected.Sorted(),
		ByCategory: make(map[string][]string, len(s.ByCategory)),
	}
	for k, v := range s.ByCategory {
		if v.Len() == 0 {
			continue
		}
		snap.ByCategory[k] = v.Sorted()
	}
	return snap
}

// IsSelected reports whether actionID is selected within categoryID.
func (s State) IsSelected(categoryID, actionID string) bool {
	return s.ByCategory[categoryID].Has(actionID)
}

// SelectedCount returns the number of selected actions in a category.
func SelectedCount(s State, categoryID string) int {
	return s.ByCategory[categoryID].Len()
}

// IsCategoryFullySelected reports whether every catalog action of the category is selected.
func IsCategoryFullySelected(s State, category domain.ActionCategory) bool {
	for _, a := range category.Actions {
		if !s.Selected.Has(a.ID) {
			return false
		}
	}
	return true
}

// ToggleAction flips one action. Deselecting from a mandatory category that
// sits at its minimum is rejected with a ConstraintViolation and s is
// returned unchanged.
func ToggleAction(s State, category domain.ActionCategory, actionID string) (State, error) {
	if !category.HasAction(actionID) {
		return s, &domain.NotFoundError{Kind: "action", ID: actionID}
	}
	if s.IsSelected(category.ID, actionID) {
		if atMinimum(s, category) {
			return s, &domain.ConstraintViolation{
				CategoryID:   category.ID,
				CategoryName: category.Name,
				MinRequired:  category.Required(),
			}
		}
		next := s.Clone()
		next.remove(category.ID, actionID)
		return next, nil
	}
	next := s.Clone()
	next.add(category.ID, actionID)
	next.markInitialized(category)
	return next, nil
}

func atMinimum(s State, category domain.ActionCategory) bool {
	required := category.Required()
	if required == 0 {
		return false
	}
	n := SelectedCount(s, category.ID)
	return n == required || (n < required && s.Initialized.Has(category.ID))
}

// ToggleAllInCategory selects or clears a whole category. Clearing a
// mandatory category keeps its first Required() actions in catalog order.
func ToggleAllInCategory(s State, category domain.ActionCategory, checked bool) State {
	next := s.Clone()
	if checked {
		for _, a := range category.Actions {
			next.add(category.ID, a.ID)
		}
		next.markInitialized(category)
		return next
	}
	keep := category.Required()
	for i, a := range category.Actions {
		if i < keep {
			next.add(category.ID, a.ID)
			continue
		}
		next.remove(category.ID, a.ID)
	}
	next.markInitialized(category)
	return next
}

// Deselected lists the (action, category) pairs present in before but not in after.
func Deselected(before, after State) []domain.Favorite {
	var out []domain.Favorite
	for categoryID, ids := range before.ByCategory {
		for _, id := range ids.Sorted() {
			if !after.IsSelected(categoryID, id) {
				out = append(out, domain.Favorite{ActionID: id, CategoryID: categoryID})
			}
		}
	}
	return out
}

// CheckInvariants verifies the state against the catalog: the flat set equals
// the union of the per-category sets, every id belongs to its category, and
// every initialized mandatory category holds its minimum.
func CheckInvariants(s State, cat *catalog.Catalog) error {
	union := domain.IDSet{}
	for categoryID, ids := range s.ByCategory {
		for id := range ids {
			if cat != nil && !cat.Contains(categoryID, id) {
				return fmt.Errorf("action %s is not part of category %s", id, categoryID)
			}
			union.Add(id)
		}
	}
	if !union.Equal(s.Selected) {
		return fmt.Errorf("selected set (%d) differs from per-category union (%d)", s.Selected.Len(), union.Len())
	}
	if cat == nil {
		return nil
	}
	for _, category := range cat.Mandatory() {
		if !s.Initialized.Has(category.ID) {
			continue
		}
		if n := SelectedCount(s, category.ID); n < category.Required() {
			return &domain.ConstraintViolation{CategoryID: category.ID, CategoryName: category.Name, MinRequired: category.Required()}
		}
	}
	return nil
}
