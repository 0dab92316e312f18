package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"actionboard/internal/catalog"
	"actionboard/internal/config"
	"actionboard/internal/domain"
	"actionboard/internal/favorites"
	"actionboard/internal/metrics"
	"actionboard/internal/repo"
	"actionboard/internal/wizard"
)

// Persistence commits final snapshots and loads previously committed ones.
type Persistence interface {
	Commit(ctx context.Context, snap domain.Snapshot) error
	Load(ctx context.Context, orgID string) (domain.Snapshot, error)
}

type Engine struct {
	Catalog   *catalog.Catalog
	Favorites favorites.Service
	Store     Persistence
	Config    *config.Config
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
	// Backoff returns a fresh retry policy for one commit. Nil uses an
	// exponential policy bounded by persistence.retry_max_elapsed.
	Backoff func() backoff.BackOff
}

func New(cat *catalog.Catalog, favs favorites.Service, store Persistence, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return Engine{
		Catalog:   cat,
		Favorites: favs,
		Store:     store,
		Config:    cfg,
		Logger:    logger,
		Metrics:   m,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

// SessionOptions selects the flow variant and, optionally, a committed
// organization to hydrate from.
type SessionOptions struct {
	Flow             string
	OrgID            string
	OrganizationName string
}

// OpenSession starts an onboarding session.
func (e Engine) OpenSession(ctx context.Context, opts SessionOptions) (*Session, error) {
	if e.Catalog == nil {
		return nil, errors.New("catalog not loaded")
	}
	if e.Favorites == nil {
		return nil, errors.New("favorites service not configured")
	}
	cfg := e.config()
	name, steps, err := cfg.Flow(opts.Flow)
	if err != nil {
		return nil, &domain.NotFoundError{Kind: "flow", ID: opts.Flow}
	}
	flow, err := wizard.NewFlow(name, steps)
	if err != nil {
		return nil, err
	}

	s := newSession(e, uuid.NewString(), flow)
	if opts.OrgID == "" {
		s.org = domain.Organization{ID: uuid.NewString(), Name: opts.OrganizationName}
		s.logger.Info("session opened", "flow", flow.Name, "org_id", s.org.ID)
		return s, nil
	}

	if e.Store == nil {
		return nil, errors.New("persistence not configured")
	}
	snap, err := e.Store.Load(ctx, opts.OrgID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, &domain.NotFoundError{Kind: "organization", ID: opts.OrgID}
		}
		return nil, fmt.Errorf("load organization %s: %w", opts.OrgID, err)
	}
	s.hydrate(snap)
	if opts.OrganizationName != "" {
		s.org.Name = opts.OrganizationName
	}
	if err := s.favs.Hydrate(ctx, s.state); err != nil {
		s.logger.Warn("favorites hydration failed; using committed favorites", "error", err)
		s.favs.Restore(snap.Favorites, s.state)
	}
	s.logger.Info("session hydrated", "flow", flow.Name, "org_id", s.org.ID,
		"selected", s.state.Selected.Len(), "teams", len(s.teams), "members", len(s.members))
	return s, nil
}

func (e Engine) newBackoff() backoff.BackOff {
	if e.Backoff != nil {
		return e.Backoff()
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = e.config().Persistence.RetryMaxElapsed
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = 30 * time.Second
	}
	return bo
}

// commit hands snap to the persistence adapter, retrying transient failures.
func (e Engine) commit(ctx context.Context, snap domain.Snapshot, logger *slog.Logger) error {
	if e.Store == nil {
		return errors.New("persistence not configured")
	}
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := e.Store.Commit(ctx, snap)
		if err == nil {
			return nil
		}
		e.Metrics.RemoteSyncError("commit")
		if !isRetryable(err) {
			logger.Error("commit failed", "attempt", attempt, "error", err)
			return backoff.Permanent(err)
		}
		logger.Warn("commit failed; retrying", "attempt", attempt, "error", err)
		return err
	}, backoff.WithContext(e.newBackoff(), ctx))
}

// isRetryable reports whether a persistence error may succeed on a later attempt.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, repo.ErrRejected) {
		return false
	}
	var (
		ve *domain.ValidationError
		cv *domain.ConstraintViolation
		ac *domain.AssignmentConflict
		nf *domain.NotFoundError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &cv), errors.As(err, &ac), errors.As(err, &nf):
		return false
	}
	return true
}

// Mandatory returns the mandatory catalog categories.
func (e Engine) Mandatory() []domain.ActionCategory {
	if e.Catalog == nil {
		return nil
	}
	return e.Catalog.Mandatory()
}
