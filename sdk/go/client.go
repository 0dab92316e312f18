package actionboardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal actionboard HTTP API client.
type Client struct {
	BaseURL    string
	BasePath   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  30 * time.Second,
	}
}

// Action is one catalog entry.
type Action struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ImpactScale int    `json:"impact_scale"`
	CategoryID  string `json:"category_id"`
}

// Category is a catalog category.
type Category struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Key         string   `json:"key"`
	Mandatory   bool     `json:"mandatory"`
	MinRequired int      `json:"min_required,omitempty"`
	Actions     []Action `json:"actions"`
}

type Member struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

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

// Session is the server's rendering of an onboarding session (partial).
type Session struct {
	SessionID    string `json:"session_id"`
	Organization struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"organization"`
	Step      string `json:"step"`
	StepIndex int    `json:"step_index"`
	Selection struct {
		Selected   []string            `json:"selected"`
		ByCategory map[string][]string `json:"selected_by_category"`
	} `json:"selection"`
	Favorites         map[string][]string `json:"favorites"`
	UnsyncedFavorites int                 `json:"unsynced_favorites"`
	Members           []Member            `json:"members"`
	Teams             []Team              `json:"teams"`
	EditingTeamID     string              `json:"editing_team_id,omitempty"`
	Submitting        bool                `json:"submitting"`
	CommittedAt       string              `json:"committed_at,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	OrgID      string         `json:"org_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Details come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Retryable reports whether the server flagged the failure as worth retrying.
func (e *APIError) Retryable() bool {
	v, _ := e.Details["retryable"].(bool)
	return v
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Catalog fetches the action catalog.
func (c *Client) Catalog(ctx context.Context) ([]Category, error) {
	var resp struct {
		Categories []Category `json:"categories"`
	}
	err := c.do(ctx, http.MethodGet, "catalog", nil, &resp)
	return resp.Categories, err
}

// OpenSession starts a session; orgID hydrates from a committed organization.
func (c *Client) OpenSession(ctx context.Context, flow, orgID string) (Session, error) {
	body := map[string]any{}
	if flow != "" {
		body["flow"] = flow
	}
	if orgID != "" {
		body["org_id"] = orgID
	}
	var resp Session
	err := c.do(ctx, http.MethodPost, "sessions", body, &resp)
	return resp, err
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, c.sessionPath(sessionID, ""), nil, &resp)
	return resp, err
}

func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, c.sessionPath(sessionID, ""), nil, nil)
}

func (c *Client) SetOrganizationName(ctx context.Context, sessionID, name string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPut, c.sessionPath(sessionID, "organization"), map[string]any{"name": name}, &resp)
	return resp, err
}

func (c *Client) ToggleAction(ctx context.Context, sessionID, categoryID, actionID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "actions/toggle"), map[string]any{
		"category_id": categoryID,
		"action_id":   actionID,
	}, &resp)
	return resp, err
}

func (c *Client) ToggleAllInCategory(ctx context.Context, sessionID, categoryID string, checked bool) (Session, error) {
	var resp Session
	p := c.sessionPath(sessionID, "categories/"+url.PathEscape(categoryID)+"/toggle-all")
	err := c.do(ctx, http.MethodPost, p, map[string]any{"checked": checked}, &resp)
	return resp, err
}

func (c *Client) SetFavorite(ctx context.Context, sessionID, categoryID, actionID string, isFavorite bool) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "favorites"), map[string]any{
		"category_id": categoryID,
		"action_id":   actionID,
		"is_favorite": isFavorite,
	}, &resp)
	return resp, err
}

// RetryFavorites re-sends favorite clears that failed remotely and returns
// how many are still pending.
func (c *Client) RetryFavorites(ctx context.Context, sessionID string) (int, error) {
	var resp struct {
		Remaining int `json:"remaining"`
	}
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "favorites/retry"), nil, &resp)
	return resp.Remaining, err
}

func (c *Client) AddMember(ctx context.Context, sessionID, fullName, email string) (Member, error) {
	var resp struct {
		Member Member `json:"member"`
	}
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "members"), map[string]any{
		"full_name": fullName,
		"email":     email,
	}, &resp)
	return resp.Member, err
}

func (c *Client) RemoveMember(ctx context.Context, sessionID, memberID string) error {
	return c.do(ctx, http.MethodDelete, c.sessionPath(sessionID, "members/"+url.PathEscape(memberID)), nil, nil)
}

func (c *Client) CreateTeam(ctx context.Context, sessionID, name string) (Team, error) {
	var resp struct {
		Team Team `json:"team"`
	}
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "teams"), map[string]any{"name": name}, &resp)
	return resp.Team, err
}

func (c *Client) RenameTeam(ctx context.Context, sessionID, teamID, name string) error {
	return c.do(ctx, http.MethodPatch, c.sessionPath(sessionID, "teams/"+url.PathEscape(teamID)), map[string]any{"name": name}, nil)
}

func (c *Client) EditTeam(ctx context.Context, sessionID, teamID string) error {
	return c.do(ctx, http.MethodPatch, c.sessionPath(sessionID, "teams/"+url.PathEscape(teamID)), map[string]any{"edit": true}, nil)
}

func (c *Client) DeleteTeam(ctx context.Context, sessionID, teamID string) error {
	return c.do(ctx, http.MethodDelete, c.sessionPath(sessionID, "teams/"+url.PathEscape(teamID)), nil, nil)
}

func (c *Client) ToggleTeamCategory(ctx context.Context, sessionID, teamID, categoryID string, checked bool) error {
	p := c.sessionPath(sessionID, "teams/"+url.PathEscape(teamID)+"/categories")
	return c.do(ctx, http.MethodPost, p, map[string]any{"category_id": categoryID, "checked": checked}, nil)
}

func (c *Client) ToggleTeamMember(ctx context.Context, sessionID, teamID, memberID string, checked bool) error {
	p := c.sessionPath(sessionID, "teams/"+url.PathEscape(teamID)+"/members")
	return c.do(ctx, http.MethodPost, p, map[string]any{"member_id": memberID, "checked": checked}, nil)
}

func (c *Client) Advance(ctx context.Context, sessionID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "wizard/advance"), nil, &resp)
	return resp, err
}

func (c *Client) Back(ctx context.Context, sessionID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "wizard/back"), nil, &resp)
	return resp, err
}

// Submit commits the finished configuration and returns the updated session.
func (c *Client) Submit(ctx context.Context, sessionID string) (Session, error) {
	var resp struct {
		Session Session `json:"session"`
	}
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "submit"), nil, &resp)
	return resp.Session, err
}

// ListEvents lists events newest first.
func (c *Client) ListEvents(ctx context.Context, orgID, evtType string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if orgID != "" {
		q.Set("org_id", orgID)
	}
	if evtType != "" {
		q.Set("type", evtType)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) sessionPath(sessionID, p string) string {
	base := "sessions/" + url.PathEscape(sessionID)
	if p == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	root := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		return root + "/" + p
	}
	return root
}
