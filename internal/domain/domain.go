package domain

import "sort"

type Action struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	ImpactScale int    `json:"impact_scale" yaml:"impact_scale" minimum:"1" maximum:"10"`
	CategoryID  string `json:"category_id" yaml:"-"`
}

type ActionCategory struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Key         string   `json:"key" yaml:"key"`
	Mandatory   bool     `json:"mandatory" yaml:"-"`
	MinRequired int      `json:"min_required,omitempty" yaml:"-"`
	Actions     []Action `json:"actions" yaml:"actions"`
}

// Required is the number of actions that must stay selected in the category.
// It never exceeds the catalog size so small mandatory categories stay satisfiable.
func (c ActionCategory) Required() int {
	if !c.Mandatory || c.MinRequired <= 0 {
		return 0
	}
	if c.MinRequired > len(c.Actions) {
		return len(c.Actions)
	}
	return c.MinRequired
}

// HasAction reports whether the action id belongs to the category.
func (c ActionCategory) HasAction(actionID string) bool {
	for _, a := range c.Actions {
		if a.ID == actionID {
			return true
		}
	}
	return false
}

// ActionIDs returns the category's action ids in catalog order.
func (c ActionCategory) ActionIDs() []string {
	ids := make([]string, 0, len(c.Actions))
	for _, a := range c.Actions {
		ids = append(ids, a.ID)
	}
	return ids
}

type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// OrganizationSummary is a listing row for a committed organization.
type OrganizationSummary struct {
	Organization
	CommittedAt string `json:"committed_at" format:"date-time"`
	Selected    int    `json:"selected"`
	Teams       int    `json:"teams"`
	Members     int    `json:"members"`
}

type Member struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// TeamCategory is one category assignment of a team. The id and the display
// name travel together so the two views cannot drift apart.
type TeamCategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Team struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Categories []TeamCategory `json:"categories"`
	MemberIDs  []string       `json:"member_ids"`
}

// CategoryIDs projects the team's category assignments to ids.
func (t Team) CategoryIDs() []string {
	out := make([]string, 0, len(t.Categories))
	for _, c := range t.Categories {
		out = append(out, c.ID)
	}
	return out
}

// Functions projects the team's category assignments to display names.
func (t Team) Functions() []string {
	out := make([]string, 0, len(t.Categories))
	for _, c := range t.Categories {
		out = append(out, c.Name)
	}
	return out
}

func (t Team) HasCategory(categoryID string) bool {
	for _, c := range t.Categories {
		if c.ID == categoryID {
			return true
		}
	}
	return false
}

func (t Team) HasMember(memberID string) bool {
	for _, id := range t.MemberIDs {
		if id == memberID {
			return true
		}
	}
	return false
}

// Clone returns a team whose slices are not shared with t.
func (t Team) Clone() Team {
	out := t
	out.Categories = append([]TeamCategory(nil), t.Categories...)
	out.MemberIDs = append([]string(nil), t.MemberIDs...)
	return out
}

type Favorite struct {
	ActionID   string `json:"action_id"`
	CategoryID string `json:"category_id"`
}

// SelectionSnapshot is the serializable form of a selection state.
type SelectionSnapshot struct {
	Selected   []string            `json:"selected"`
	ByCategory map[string][]string `json:"selected_by_category"`
}

// Snapshot is everything a finished onboarding flow hands to persistence.
type Snapshot struct {
	Organization Organization        `json:"organization"`
	Selection    SelectionSnapshot   `json:"selection"`
	Teams        []Team              `json:"teams"`
	Members      []Member            `json:"members"`
	Favorites    map[string][]string `json:"favorites,omitempty"`
	CommittedAt  string              `json:"committed_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// IDSet is a set of string identifiers.
type IDSet map[string]struct{}

func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Add(id string) { s[id] = struct{}{} }

func (s IDSet) Remove(id string) { delete(s, id) }

func (s IDSet) Len() int { return len(s) }

func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Sorted returns the members in lexical order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s IDSet) Equal(other IDSet) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if !other.Has(id) {
			return false
		}
	}
	return true
}
