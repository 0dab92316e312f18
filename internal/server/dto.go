package server

import (
	"encoding/json"

	"actionboard/internal/domain"
	"actionboard/internal/engine"
)

// Request payloads

type OpenSessionRequest struct {
	Flow             string `json:"flow,omitempty" example:"current"`
	OrgID            string `json:"org_id,omitempty" doc:"Hydrate from a committed organization"`
	OrganizationName string `json:"organization_name,omitempty"`
}

type OrganizationRequest struct {
	Name string `json:"name"`
}

type ToggleActionRequest struct {
	CategoryID string `json:"category_id"`
	ActionID   string `json:"action_id"`
}

type ToggleAllRequest struct {
	Checked bool `json:"checked"`
}

type FavoriteRequest struct {
	CategoryID string `json:"category_id"`
	ActionID   string `json:"action_id"`
	IsFavorite *bool  `json:"is_favorite,omitempty" doc:"Omit to flip the current flag"`
}

type MemberRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email" format:"email"`
}

type CreateTeamRequest struct {
	Name string `json:"name"`
}

type UpdateTeamRequest struct {
	Name *string `json:"name,omitempty"`
	Edit *bool   `json:"edit,omitempty" doc:"Make this the team being edited"`
}

type TeamCategoryRequest struct {
	CategoryID string `json:"category_id"`
	Checked    bool   `json:"checked"`
}

type TeamMemberRequest struct {
	MemberID string `json:"member_id"`
	Checked  bool   `json:"checked"`
}

// Response payloads

type SubmitResponse struct {
	Snapshot domain.Snapshot `json:"snapshot"`
	Session  engine.View     `json:"session"`
}

type MemberCreatedResponse struct {
	Member  domain.Member `json:"member"`
	Session engine.View   `json:"session"`
}

type TeamCreatedResponse struct {
	Team    domain.Team `json:"team"`
	Session engine.View `json:"session"`
}

type RetryFavoritesResponse struct {
	Remaining int         `json:"remaining"`
	Session   engine.View `json:"session"`
}

type CatalogResponse struct {
	Categories []domain.ActionCategory `json:"categories"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	OrgID      string         `json:"org_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type sessionList struct {
	Items []string `json:"items"`
}

type organizationList struct {
	Items []domain.OrganizationSummary `json:"items"`
}

func eventResponse(evt domain.Event) EventResponse {
	payload := map[string]any{}
	if evt.Payload != "" {
		_ = json.Unmarshal([]byte(evt.Payload), &payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		OrgID:      evt.OrgID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}
