package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"actionboard/internal/domain"
	"actionboard/internal/engine"
	"actionboard/internal/repo"
)

// History lists committed events.
type History interface {
	LatestEvents(ctx context.Context, limit int, cursor int64, orgID, evtType string) ([]domain.Event, error)
}

// Directory lists committed organizations.
type Directory interface {
	ListOrganizations(ctx context.Context) ([]domain.OrganizationSummary, error)
}

// Config for the HTTP API handler.
type Config struct {
	Registry      *engine.Registry
	History       History
	Organizations Directory
	BasePath      string
	// Gatherer backs /metrics; nil leaves the route unmounted.
	Gatherer prometheus.Gatherer
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"constraint_violation"`
	Message string         `json:"message" example:"category Teamwork requires at least 3 selected actions"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"category_id\":\"teamwork\"}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the actionboard API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Registry == nil {
		return nil, errors.New("session registry required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("actionboard API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerCatalog(group, cfg.Registry.Engine)
	registerSessions(group, cfg.Registry)
	registerSelection(group, cfg.Registry)
	registerMembers(group, cfg.Registry)
	registerTeams(group, cfg.Registry)
	registerWizard(group, cfg.Registry)
	if cfg.History != nil {
		registerEvents(group, cfg.History)
	}
	if cfg.Organizations != nil {
		registerOrganizations(group, cfg.Organizations)
	}
	registerOpenAPI(router, api, basePath)
	if cfg.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var (
		cv *domain.ConstraintViolation
		ac *domain.AssignmentConflict
		ve *domain.ValidationError
		nf *domain.NotFoundError
		rs *domain.RemoteSyncError
	)
	switch {
	case errors.As(err, &cv):
		return newAPIError(http.StatusConflict, "constraint_violation", err.Error(), map[string]any{
			"category_id":  cv.CategoryID,
			"min_required": cv.MinRequired,
		})
	case errors.As(err, &ac):
		return newAPIError(http.StatusConflict, "assignment_conflict", err.Error(), map[string]any{
			"member_id":     ac.MemberID,
			"owner_team_id": ac.OwnerTeamID,
		})
	case errors.As(err, &ve):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{
			"step": ve.Step,
			"rule": ve.Rule,
		})
	case errors.As(err, &nf):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), map[string]any{"kind": nf.Kind, "id": nf.ID})
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.As(err, &rs):
		return newAPIError(http.StatusServiceUnavailable, "remote_sync_failed", err.Error(), map[string]any{
			"operation": rs.Op,
			"retryable": rs.Retryable,
		})
	case errors.Is(err, domain.ErrSubmissionInFlight):
		return newAPIError(http.StatusConflict, "submission_in_flight", err.Error(), nil)
	case errors.Is(err, domain.ErrSessionClosed):
		return newAPIError(http.StatusGone, "session_closed", err.Error(), nil)
	case errors.Is(err, domain.ErrNotSelected):
		return newAPIError(http.StatusConflict, "not_selected", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

// writeAPIError renders the error envelope outside huma-managed routes.
func writeAPIError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	json.NewEncoder(w).Encode(err)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	buildDoc := sync.OnceValues(func() ([]byte, error) {
		oas := api.OpenAPI()
		ensureDefaultErrorResponses(oas)
		return json.Marshal(oas)
	})
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		doc, err := buildDoc()
		if err != nil {
			writeAPIError(w, newAPIError(http.StatusInternalServerError, "", "encode openapi document: "+err.Error(), nil))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	errSchema := &huma.Schema{Ref: "#/components/schemas/ApiError"}
	if oas.Components != nil && oas.Components.Schemas != nil {
		errSchema = oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: errSchema,
					},
				},
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>actionboard API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerCatalog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-catalog",
		Method:      http.MethodGet,
		Path:        "/catalog",
		Summary:     "Action catalog with mandatory flags",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CatalogResponse `json:"body"`
	}, error) {
		resp := CatalogResponse{Categories: []domain.ActionCategory{}}
		if e.Catalog != nil {
			resp.Categories = append(resp.Categories, e.Catalog.Categories()...)
		}
		return &struct {
			Body CatalogResponse `json:"body"`
		}{Body: resp}, nil
	})
}

type sessionPath struct {
	SessionID string `path:"session_id"`
}

type sessionOutput struct {
	Body engine.View `json:"body"`
}

// withSession runs fn against a live session and renders its view.
func withSession(reg *engine.Registry, id string, fn func(*engine.Session) error) (*sessionOutput, error) {
	s, err := reg.Get(id)
	if err != nil {
		return nil, handleError(err)
	}
	if err := fn(s); err != nil {
		return nil, handleError(err)
	}
	return &sessionOutput{Body: s.View()}, nil
}

func registerSessions(api huma.API, reg *engine.Registry) {
	huma.Register(api, huma.Operation{
		OperationID:   "open-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Open onboarding session",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body OpenSessionRequest `json:"body"`
	}) (*sessionOutput, error) {
		s, err := reg.Open(ctx, engine.SessionOptions{
			Flow:             input.Body.Flow,
			OrgID:            input.Body.OrgID,
			OrganizationName: input.Body.OrganizationName,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &sessionOutput{Body: s.View()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List open session ids",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body sessionList `json:"body"`
	}, error) {
		return &struct {
			Body sessionList `json:"body"`
		}{Body: sessionList{Items: reg.IDs()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}",
		Summary:     "Get session view",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*sessionOutput, error) {
		return withSession(reg, input.SessionID, func(*engine.Session) error { return nil })
	})

	huma.Register(api, huma.Operation{
		OperationID:   "close-session",
		Method:        http.MethodDelete,
		Path:          "/sessions/{session_id}",
		Summary:       "Close session",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct{}, error) {
		if err := reg.Close(input.SessionID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-organization",
		Method:      http.MethodPut,
		Path:        "/sessions/{session_id}/organization",
		Summary:     "Set organization name",
		Errors:      []int{http.StatusNotFound, http.StatusGone},
	}, func(ctx context.Context, input *struct {
		SessionID string              `path:"session_id"`
		Body      OrganizationRequest `json:"body"`
	}) (*sessionOutput, error) {
		return withSession(reg, input.SessionID, func(s *engine.Session) error {
			return s.SetOrganizationName(input.Body.Name)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/submit",
		Summary:     "Commit the finished configuration",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body SubmitResponse `json:"body"`
	}, error) {
		s, err := reg.Get(input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		snap, err := s.Submit(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmitResponse `json:"body"`
		}{Body: SubmitResponse{Snapshot: snap, Session: s.View()}}, nil
	})
}

func registerSelection(api huma.API, reg *engine.Registry) {
	huma.Register(api, huma.Operation{
		OperationID: "toggle-action",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/actions/toggle",
		Summary:     "Select or deselect one action",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SessionID string              `path:"session_id"`
		Body      ToggleActionRequest `json:"body"`
	}) (*sessionOutput, error) {
		return withSession(reg, input.SessionID, func(s *engine.Session) error {
			return s.ToggleAction(ctx, input.Body.CategoryID, input.Body.ActionID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-category",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/categories/{category_id}/toggle-all",
		Summary:     "Select or deselect every action of a category",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SessionID  string           `path:"session_id"`
		CategoryID string           `path:"category_id"`
		Body       ToggleAllRequest `json:"body"`
	}) (*sessionOutput, error) {
		return withSession(reg, input.SessionID, func(s *engine.Session) error {
			return s.ToggleAllInCategory(ctx, input.CategoryID, input.Body.Checked)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-favorite",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/favorites",
		Summary:     "Flag or unflag a selected action as favorite",
		Description: "Best-effort: when the favorites service is unreachable the flag is left unchanged and the current session is returned.",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SessionID string          `path:"session_id"`
		Body      FavoriteRequest `json:"body"`
	}) (*sessionOutput, error) {
		return withSession(reg, input.SessionID, func(s *engine.Session) error {
			desired := true
			if input.Body.IsFavorite != nil {
				desired = *input.Body.IsFavorite
			} else {
				current := s.View().Favorites[input.Body.CategoryID]
				desired = !slices.Contains(current, input.Body.ActionID)
			}
			err := s.ToggleFavorite(ctx, input.Body.CategoryID, input.Body.ActionID, desired)
			var rs *domain.RemoteSyncError
			if errors.As(err, &rs) {
				// Already logged and counted by the synchronizer.
				return nil
			}
			return err
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "retry-favorites",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/favorites/retry",
		Summary:     "Retry favorite clears that failed remotely",
		Errors:      []int{http.StatusNotFound, http.StatusGone},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body RetryFavoritesResponse `json:"body"`
	}, error) {
		s, err := reg.Get(input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		remaining, err := s.RetryFavorites(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RetryFavoritesResponse `json:"body"`
		}{Body: RetryFavoritesResponse{Remaining: remaining, Session: s.View()}}, nil
	})
}

func registerMembers(api huma.API, reg *engine.Registry) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-member",
		Method:        http.MethodPost,
		Path:          "/sessions/{session_id}/members",
		Summary:       "Add organization member",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		SessionID string        `path:"session_id"`
		Body      MemberRequest `json:"body"`
	}) (*struct {
		Body MemberCreatedResponse `json:"body"`
	}, error) {
		s, err := reg.Get(input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		m, err := s.AddMember(input.Body.FullName, input.Body.Email)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MemberCreatedResponse `json:"body"`
		}{Body: MemberCreatedResponse{Member: m, Session: s.View()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-member",
		Method:      http.MethodDelete,
		Path:        "/sessions/{session_id}/members/{member_id}",
		Summary:     "Remove member from the organization and every team",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		MemberID  string `path:"member_id"`
	}) (*sessionOutput, error) {
		return withSession(reg, input.SessionID, func(s *engine.Session) error {
			return s.RemoveMember(input.MemberID)
		})
	})
}

func registerTeams(api huma.API, reg *engine.Registry) {
	type teamPath struct {
		SessionID string `path:"session_id"`
		TeamID    string `path:"team_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-team",
		Method:        http.MethodPost,
		Path:          "/sessions/{session_id}/teams",
		Summary:       "Create team",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		SessionID string            `path:"session_id"`
		Body      CreateTeamRequest `json:"body"`
	}) (*struct {
		Body TeamCreatedResponse `json:"body"`
	}, error) {
		s, err := reg.Get(input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		team, err := s.CreateTeam(input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TeamCreatedResponse `json:"body"`
		}{Body: TeamCreatedResponse{Team: team, Session: s.View()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-team",
		Method:      http.MethodPatch,
		Path:        "/sessions/{session_id}/teams/{team_id}",
		Summary:     "Rename a team or make it the team being edited",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		SessionID string            `path:"session_id"`
		TeamID    string            `path:"team_id"`
		Body      UpdateTeamRequest `json:"body"`
	}) (*sessionOutput, error) {
		return withSession(reg, input.SessionID, func(s *engine.Session) error {
			if input.Body.Name != nil {
				if err := s.RenameTeam(input.TeamID, *input.Body.Name); err != nil {
					return err
				}
			}
			if input.Body.Edit != nil && *input.Body.Edit {
				return s.EditTeam(input.TeamID)
			}
			return nil
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-team",
		Method:      http.MethodDelete,
		Path:        "/sessions/{session_id}/teams/{team_id}",
		Summary:     "Delete team",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *teamPath) (*sessionOutput, error) {
		return withSession(reg, input.SessionID, func(s *engine.Session) error {
			return s.DeleteTeam(input.TeamID)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-team-category",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/teams/{team_id}/categories",
		Summary:     "Assign or unassign a category to a team",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string              `path:"session_id"`
		TeamID    string              `path:"team_id"`
		Body      TeamCategoryRequest `json:"body"`
	}) (*sessionOutput, error) {
		return withSession(reg, input.SessionID, func(s *engine.Session) error {
			return s.ToggleTeamCategory(input.TeamID, input.Body.CategoryID, input.Body.Checked)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-team-member",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/teams/{team_id}/members",
		Summary:     "Assign or unassign a member to a team",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SessionID string            `path:"session_id"`
		TeamID    string            `path:"team_id"`
		Body      TeamMemberRequest `json:"body"`
	}) (*sessionOutput, error) {
		return withSession(reg, input.SessionID, func(s *engine.Session) error {
			return s.ToggleTeamMember(input.TeamID, input.Body.MemberID, input.Body.Checked)
		})
	})
}

func registerWizard(api huma.API, reg *engine.Registry) {
	huma.Register(api, huma.Operation{
		OperationID: "wizard-advance",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/wizard/advance",
		Summary:     "Advance to the next step",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *sessionPath) (*sessionOutput, error) {
		return withSession(reg, input.SessionID, func(s *engine.Session) error { return s.Advance() })
	})

	huma.Register(api, huma.Operation{
		OperationID: "wizard-back",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/wizard/back",
		Summary:     "Return to the previous step",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *sessionPath) (*sessionOutput, error) {
		return withSession(reg, input.SessionID, func(s *engine.Session) error { return s.Back() })
	})
}

func registerEvents(api huma.API, h History) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		OrgID  string `query:"org_id"`
		Type   string `query:"type"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := h.LatestEvents(ctx, limit+1, cursorID, input.OrgID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerOrganizations(api huma.API, d Directory) {
	huma.Register(api, huma.Operation{
		OperationID: "list-organizations",
		Method:      http.MethodGet,
		Path:        "/organizations",
		Summary:     "List committed organizations",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body organizationList `json:"body"`
	}, error) {
		orgs, err := d.ListOrganizations(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		resp := organizationList{Items: []domain.OrganizationSummary{}}
		resp.Items = append(resp.Items, orgs...)
		return &struct {
			Body organizationList `json:"body"`
		}{Body: resp}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
