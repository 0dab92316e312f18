// Package teams implements team editing rules: category toggles and the
// exclusive assignment of members to teams.
package teams

import (
	"fmt"
	"strings"

	"actionboard/internal/domain"
)

// Policy carries the configurable completeness rules.
type Policy struct {
	RequireMembers bool
}

// ToggleTeamCategory adds or removes a category assignment. The id and the
// display name are kept in one entry so both projections stay aligned.
func ToggleTeamCategory(team domain.Team, categoryID, categoryName string, checked bool) domain.Team {
	out := team.Clone()
	if checked {
		if out.HasCategory(categoryID) {
			return out
		}
		out.Categories = append(out.Categories, domain.TeamCategory{ID: categoryID, Name: categoryName})
		return out
	}
	kept := out.Categories[:0]
	for _, c := range out.Categories {
		if c.ID != categoryID {
			kept = append(kept, c)
		}
	}
	out.Categories = kept
	return out
}

// AssignedMemberIDs returns the members assigned to any team other than excludingTeamID.
func AssignedMemberIDs(all []domain.Team, excludingTeamID string) domain.IDSet {
	out := domain.IDSet{}
	for _, t := range all {
		if t.ID == excludingTeamID {
			continue
		}
		for _, id := range t.MemberIDs {
			out.Add(id)
		}
	}
	return out
}

// Owner returns the id of the team, other than excludingTeamID, that holds memberID.
func Owner(all []domain.Team, memberID, excludingTeamID string) (string, bool) {
	for _, t := range all {
		if t.ID != excludingTeamID && t.HasMember(memberID) {
			return t.ID, true
		}
	}
	return "", false
}

// CanAssignMember reports whether memberID is free to join the edited team.
func CanAssignMember(memberID string, all []domain.Team, editingTeamID string) bool {
	return !AssignedMemberIDs(all, editingTeamID).Has(memberID)
}

// ToggleMember adds or removes memberID on the team identified by
// editingTeamID. Adding a member owned by another team fails with an
// AssignmentConflict.
func ToggleMember(all []domain.Team, editingTeamID, memberID string, checked bool) (domain.Team, error) {
	idx := IndexOf(all, editingTeamID)
	if idx < 0 {
		return domain.Team{}, &domain.NotFoundError{Kind: "team", ID: editingTeamID}
	}
	team := all[idx].Clone()
	if !checked {
		kept := team.MemberIDs[:0]
		for _, id := range team.MemberIDs {
			if id != memberID {
				kept = append(kept, id)
			}
		}
		team.MemberIDs = kept
		return team, nil
	}
	if team.HasMember(memberID) {
		return team, nil
	}
	if owner, taken := Owner(all, memberID, editingTeamID); taken {
		return all[idx].Clone(), &domain.AssignmentConflict{MemberID: memberID, OwnerTeamID: owner}
	}
	team.MemberIDs = append(team.MemberIDs, memberID)
	return team, nil
}

// RemoveMemberEverywhere drops memberID from every team.
func RemoveMemberEverywhere(all []domain.Team, memberID string) []domain.Team {
	out := make([]domain.Team, 0, len(all))
	for _, t := range all {
		c := t.Clone()
		kept := c.MemberIDs[:0]
		for _, id := range c.MemberIDs {
			if id != memberID {
				kept = append(kept, id)
			}
		}
		c.MemberIDs = kept
		out = append(out, c)
	}
	return out
}

// Problems lists what keeps a team from being complete.
func Problems(team domain.Team, p Policy) []string {
	var out []string
	if strings.TrimSpace(team.Name) == "" {
		out = append(out, "team name is required")
	}
	if len(team.Categories) == 0 {
		out = append(out, "at least one category must be assigned")
	}
	if p.RequireMembers && len(team.MemberIDs) == 0 {
		out = append(out, "at least one member must be assigned")
	}
	return out
}

// IsComplete reports whether the team satisfies the policy.
func IsComplete(team domain.Team, p Policy) bool {
	return len(Problems(team, p)) == 0
}

// CheckExclusive verifies that no member belongs to two teams.
func CheckExclusive(all []domain.Team) error {
	owner := map[string]string{}
	for _, t := range all {
		for _, id := range t.MemberIDs {
			if prev, ok := owner[id]; ok && prev != t.ID {
				return fmt.Errorf("member %s assigned to teams %s and %s", id, prev, t.ID)
			}
			owner[id] = t.ID
		}
	}
	return nil
}

func IndexOf(all []domain.Team, teamID string) int {
	for i, t := range all {
		if t.ID == teamID {
			return i
		}
	}
	return -1
}

// Replace returns all with the team sharing team.ID swapped for team.
func Replace(all []domain.Team, team domain.Team) []domain.Team {
	out := make([]domain.Team, len(all))
	for i, t := range all {
		if t.ID == team.ID {
			out[i] = team
			continue
		}
		out[i] = t
	}
	return out
}

// Remove returns all without the team identified by teamID.
func Remove(all []domain.Team, teamID string) []domain.Team {
	out := make([]domain.Team, 0, len(all))
	for _, t := range all {
		if t.ID != teamID {
			out = append(out, t)
		}
	}
	return out
}
