package engine

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"actionboard/internal/domain"
	"actionboard/internal/favorites"
	"actionboard/internal/selection"
	"actionboard/internal/teams"
	"actionboard/internal/wizard"
)

// Session owns the selection, team and wizard state of one onboarding flow.
// Calls are serialized by mu, standing in for the host UI's event loop.
// Once closed, results of in-flight remote calls are discarded.
type Session struct {
	ID string

	engine Engine
	logger *slog.Logger
	alive  atomic.Bool

	mu            sync.Mutex
	org           domain.Organization
	state         selection.State
	teams         []domain.Team
	members       []domain.Member
	favs          *favorites.Synchronizer
	wizard        *wizard.Wizard
	editingTeamID string
	committedAt   string
	createdAt     time.Time
}

func newSession(e Engine, id string, flow wizard.Flow) *Session {
	s := &Session{
		ID:        id,
		engine:    e,
		logger:    e.logger().With("component", "engine", "session_id", id),
		state:     selection.New(),
		wizard:    wizard.New(flow),
		createdAt: e.now(),
	}
	s.alive.Store(true)
	s.favs = favorites.NewSynchronizer(e.Favorites, s.logger)
	s.favs.Alive = s.alive.Load
	if e.Metrics != nil {
		s.favs.Recorder = e.Metrics
	}
	return s
}

func (s *Session) hydrate(snap domain.Snapshot) {
	s.org = snap.Organization
	s.state = selection.FromSnapshot(snap.Selection, s.engine.Catalog)
	s.members = append([]domain.Member(nil), snap.Members...)
	known := domain.IDSet{}
	for _, m := range s.members {
		known.Add(m.ID)
	}
	for _, t := range snap.Teams {
		t = t.Clone()
		kept := t.MemberIDs[:0]
		for _, id := range t.MemberIDs {
			if known.Has(id) && teams.CanAssignMember(id, s.teams, t.ID) {
				kept = append(kept, id)
			}
		}
		t.MemberIDs = kept
		s.teams = append(s.teams, t)
	}
	s.committedAt = snap.CommittedAt
}

// Alive reports whether the session is still open.
func (s *Session) Alive() bool { return s.alive.Load() }

// Close tears the session down. In-flight remote calls complete but their
// results no longer touch the session.
func (s *Session) Close() {
	if s.alive.CompareAndSwap(true, false) {
		s.logger.Info("session closed")
	}
}

func (s *Session) lock() error {
	s.mu.Lock()
	if !s.alive.Load() {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	return nil
}

func (s *Session) category(id string) (domain.ActionCategory, error) {
	return s.engine.Catalog.MustCategory(id)
}

func (s *Session) SetOrganizationName(name string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.org.Name = strings.TrimSpace(name)
	return nil
}

// ToggleAction flips one action and, when it was deselected, clears its
// favorite before returning.
func (s *Session) ToggleAction(ctx context.Context, categoryID, actionID string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	cat, err := s.category(categoryID)
	if err != nil {
		return err
	}
	next, err := selection.ToggleAction(s.state, cat, actionID)
	if err != nil {
		var cv *domain.ConstraintViolation
		if errors.As(err, &cv) {
			s.engine.Metrics.ConstraintViolation(cv.CategoryID)
			s.logger.Info("deselect rejected", "category_id", cv.CategoryID, "action_id", actionID, "min_required", cv.MinRequired)
		}
		return err
	}
	s.apply(ctx, next)
	return nil
}

// ToggleAllInCategory selects or clears a category and awaits the favorites cascade.
func (s *Session) ToggleAllInCategory(ctx context.Context, categoryID string, checked bool) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	cat, err := s.category(categoryID)
	if err != nil {
		return err
	}
	s.apply(ctx, selection.ToggleAllInCategory(s.state, cat, checked))
	return nil
}

func (s *Session) apply(ctx context.Context, next selection.State) {
	removed := selection.Deselected(s.state, next)
	s.state = next
	if len(removed) > 0 {
		s.favs.Cascade(ctx, removed)
	}
}

// ToggleFavorite sets the favorite flag of a selected action. Remote failures
// leave the local flag unchanged and are returned as RemoteSyncError.
func (s *Session) ToggleFavorite(ctx context.Context, categoryID, actionID string, desired bool) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if _, err := s.category(categoryID); err != nil {
		return err
	}
	if desired && !s.state.IsSelected(categoryID, actionID) {
		return domain.ErrNotSelected
	}
	return s.favs.ToggleFavorite(ctx, actionID, categoryID, desired)
}

func (s *Session) AddMember(fullName, email string) (domain.Member, error) {
	if err := s.lock(); err != nil {
		return domain.Member{}, err
	}
	defer s.mu.Unlock()
	fullName = strings.TrimSpace(fullName)
	email = strings.TrimSpace(email)
	if fullName == "" {
		return domain.Member{}, &domain.ValidationError{Step: string(wizard.StepMembers), Rule: "member.name", Message: "member name is required"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.Member{}, &domain.ValidationError{Step: string(wizard.StepMembers), Rule: "member.email", Message: "invalid email " + email}
	}
	for _, m := range s.members {
		if strings.EqualFold(m.Email, email) {
			return domain.Member{}, &domain.ValidationError{Step: string(wizard.StepMembers), Rule: "member.unique", Message: "member " + email + " already added"}
		}
	}
	m := domain.Member{ID: uuid.NewString(), FullName: fullName, Email: email}
	s.members = append(s.members, m)
	return m, nil
}

// RemoveMember deletes a member and drops it from every team.
func (s *Session) RemoveMember(memberID string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	idx := s.memberIndex(memberID)
	if idx < 0 {
		return &domain.NotFoundError{Kind: "member", ID: memberID}
	}
	s.members = append(s.members[:idx:idx], s.members[idx+1:]...)
	s.teams = teams.RemoveMemberEverywhere(s.teams, memberID)
	return nil
}

func (s *Session) memberIndex(memberID string) int {
	for i, m := range s.members {
		if m.ID == memberID {
			return i
		}
	}
	return -1
}

// CreateTeam adds an empty team and makes it the team under edit.
func (s *Session) CreateTeam(name string) (domain.Team, error) {
	if err := s.lock(); err != nil {
		return domain.Team{}, err
	}
	defer s.mu.Unlock()
	t := domain.Team{ID: uuid.NewString(), Name: strings.TrimSpace(name)}
	s.teams = append(s.teams, t)
	s.editingTeamID = t.ID
	return t.Clone(), nil
}

func (s *Session) team(teamID string) (domain.Team, error) {
	idx := teams.IndexOf(s.teams, teamID)
	if idx < 0 {
		return domain.Team{}, &domain.NotFoundError{Kind: "team", ID: teamID}
	}
	return s.teams[idx], nil
}

func (s *Session) RenameTeam(teamID, name string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	t, err := s.team(teamID)
	if err != nil {
		return err
	}
	t = t.Clone()
	t.Name = strings.TrimSpace(name)
	s.teams = teams.Replace(s.teams, t)
	return nil
}

// EditTeam marks teamID as the team under edit.
func (s *Session) EditTeam(teamID string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if _, err := s.team(teamID); err != nil {
		return err
	}
	s.editingTeamID = teamID
	return nil
}

func (s *Session) DeleteTeam(teamID string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if _, err := s.team(teamID); err != nil {
		return err
	}
	s.teams = teams.Remove(s.teams, teamID)
	if s.editingTeamID == teamID {
		s.editingTeamID = ""
	}
	return nil
}

// ToggleTeamCategory assigns or unassigns a catalog category. Unassigning
// an id missing from the catalog is allowed so stale assignments can be cleaned up.
func (s *Session) ToggleTeamCategory(teamID, categoryID string, checked bool) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	t, err := s.team(teamID)
	if err != nil {
		return err
	}
	cat, ok := s.engine.Catalog.Category(categoryID)
	if !ok && checked {
		return &domain.NotFoundError{Kind: "category", ID: categoryID}
	}
	s.teams = teams.Replace(s.teams, teams.ToggleTeamCategory(t, categoryID, cat.Name, checked))
	s.editingTeamID = teamID
	return nil
}

// ToggleTeamMember assigns or unassigns a member on teamID, which becomes the team under edit.
func (s *Session) ToggleTeamMember(teamID, memberID string, checked bool) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if checked && s.memberIndex(memberID) < 0 {
		return &domain.NotFoundError{Kind: "member", ID: memberID}
	}
	t, err := teams.ToggleMember(s.teams, teamID, memberID, checked)
	if err != nil {
		var conflict *domain.AssignmentConflict
		if errors.As(err, &conflict) {
			s.engine.Metrics.AssignmentConflict()
		}
		return err
	}
	s.teams = teams.Replace(s.teams, t)
	s.editingTeamID = teamID
	return nil
}

func (s *Session) input() wizard.Input {
	return wizard.Input{
		OrganizationName:   s.org.Name,
		Selection:          s.state,
		Mandatory:          s.engine.Mandatory(),
		Teams:              s.teams,
		Members:            s.members,
		RequireTeamMembers: s.engine.config().Teams.RequireMembers,
	}
}

// Advance moves the wizard forward when the current step is valid.
func (s *Session) Advance() error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if s.wizard.Submitting() {
		return domain.ErrSubmissionInFlight
	}
	if err := s.wizard.Advance(s.input()); err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			s.engine.Metrics.ValidationFailure(ve.Step)
		}
		return err
	}
	return nil
}

func (s *Session) Back() error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.wizard.Back()
}

// Submit re-validates the whole flow and commits the snapshot, retrying
// transient persistence failures. Local state is never rolled back; on
// failure the caller may submit again.
func (s *Session) Submit(ctx context.Context) (domain.Snapshot, error) {
	if err := s.lock(); err != nil {
		return domain.Snapshot{}, err
	}
	if err := s.wizard.Flow().Check(wizard.StepSummary, s.input()); err != nil {
		s.engine.Metrics.ValidationFailure(string(wizard.StepSummary))
		s.mu.Unlock()
		return domain.Snapshot{}, err
	}
	if err := s.wizard.BeginSubmit(); err != nil {
		s.mu.Unlock()
		return domain.Snapshot{}, err
	}
	snap := s.snapshot()
	snap.CommittedAt = s.engine.now().UTC().Format(time.RFC3339)
	s.mu.Unlock()

	err := s.engine.commit(ctx, snap, s.logger)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive.Load() {
		s.logger.Info("discarding commit result for closed session", "error", err)
		return snap, domain.ErrSessionClosed
	}
	s.wizard.EndSubmit()
	if err != nil {
		s.engine.Metrics.Commit("error")
		return domain.Snapshot{}, &domain.RemoteSyncError{Op: "commit", Retryable: isRetryable(err), Err: err}
	}
	s.engine.Metrics.Commit("ok")
	s.committedAt = snap.CommittedAt
	s.logger.Info("onboarding committed", "org_id", snap.Organization.ID, "selected", len(snap.Selection.Selected))
	return snap, nil
}

// RetryFavorites re-issues favorite clears that failed during a cascade.
func (s *Session) RetryFavorites(ctx context.Context) (int, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	return s.favs.RetryUnsynced(ctx), nil
}

func (s *Session) snapshot() domain.Snapshot {
	out := domain.Snapshot{
		Organization: s.org,
		Selection:    s.state.Snapshot(),
		Members:      append([]domain.Member(nil), s.members...),
		Favorites:    s.favs.Favorites(),
		CommittedAt:  s.committedAt,
	}
	for _, t := range s.teams {
		out.Teams = append(out.Teams, t.Clone())
	}
	return out
}

// Snapshot returns the current state in its persisted form.
func (s *Session) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// CheckInvariants verifies the selection and team invariants of the session.
func (s *Session) CheckInvariants() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := selection.CheckInvariants(s.state, s.engine.Catalog); err != nil {
		return err
	}
	for categoryID, ids := range s.favs.Favorites() {
		for _, id := range ids {
			if !s.state.IsSelected(categoryID, id) {
				return errors.New("favorite " + categoryID + "/" + id + " is not selected")
			}
		}
	}
	return teams.CheckExclusive(s.teams)
}
