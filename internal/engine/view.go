package engine

import (
	"actionboard/internal/domain"
	"actionboard/internal/selection"
	"actionboard/internal/teams"
	"actionboard/internal/wizard"
)

type CategoryStatus struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Mandatory     bool   `json:"mandatory"`
	Required      int    `json:"required"`
	Selected      int    `json:"selected"`
	Total         int    `json:"total"`
	FullySelected bool   `json:"fully_selected"`
}

type TeamView struct {
	domain.Team
	Functions   []string `json:"functions"`
	MemberNames []string `json:"member_names"`
	Complete    bool     `json:"complete"`
	Problems    []string `json:"problems,omitempty"`
}

// View is a read-only rendering of a session for the host UI.
type View struct {
	SessionID         string                   `json:"session_id"`
	Organization      domain.Organization      `json:"organization"`
	Step              string                   `json:"step"`
	StepIndex         int                      `json:"step_index"`
	Progress          wizard.Progress          `json:"progress"`
	Selection         domain.SelectionSnapshot `json:"selection"`
	Categories        []CategoryStatus         `json:"categories"`
	Favorites         map[string][]string      `json:"favorites"`
	UnsyncedFavorites int                      `json:"unsynced_favorites"`
	Members           []domain.Member          `json:"members"`
	Teams             []TeamView               `json:"teams"`
	EditingTeamID     string                   `json:"editing_team_id,omitempty"`
	AssignedMemberIDs []string                 `json:"assigned_member_ids"`
	Submitting        bool                     `json:"submitting"`
	CommittedAt       string                   `json:"committed_at,omitempty"`
	Closed            bool                     `json:"closed"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := s.input()
	v := View{
		SessionID:         s.ID,
		Organization:      s.org,
		Step:              string(s.wizard.Current()),
		StepIndex:         s.wizard.Index(),
		Progress:          s.wizard.Progress(in),
		Selection:         s.state.Snapshot(),
		Favorites:         s.favs.Favorites(),
		UnsyncedFavorites: len(s.favs.Unsynced()),
		Members:           append([]domain.Member{}, s.members...),
		EditingTeamID:     s.editingTeamID,
		AssignedMemberIDs: teams.AssignedMemberIDs(s.teams, s.editingTeamID).Sorted(),
		Submitting:        s.wizard.Submitting(),
		CommittedAt:       s.committedAt,
		Closed:            !s.alive.Load(),
	}
	for _, c := range s.engine.Catalog.Categories() {
		v.Categories = append(v.Categories, CategoryStatus{
			ID:            c.ID,
			Name:          c.Name,
			Mandatory:     c.Mandatory,
			Required:      c.Required(),
			Selected:      selection.SelectedCount(s.state, c.ID),
			Total:         len(c.Actions),
			FullySelected: selection.IsCategoryFullySelected(s.state, c),
		})
	}
	names := map[string]string{}
	for _, m := range s.members {
		names[m.ID] = m.FullName
	}
	policy := teams.Policy{RequireMembers: in.RequireTeamMembers}
	for _, t := range s.teams {
		tv := TeamView{Team: t.Clone(), Functions: t.Functions(), MemberNames: []string{}}
		for i, c := range t.Categories {
			if c.Name == "" {
				tv.Functions[i] = s.engine.Catalog.CategoryName(c.ID)
			}
		}
		for _, id := range t.MemberIDs {
			name, ok := names[id]
			if !ok {
				name = domain.UnknownMember
			}
			tv.MemberNames = append(tv.MemberNames, name)
		}
		tv.Problems = teams.Problems(t, policy)
		tv.Complete = len(tv.Problems) == 0
		v.Teams = append(v.Teams, tv)
	}
	return v
}
