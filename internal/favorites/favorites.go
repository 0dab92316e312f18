// Package favorites keeps the local favorites set consistent with the
// selection and with a remote favorites service.
package favorites

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"actionboard/internal/domain"
	"actionboard/internal/selection"
)

// Service is the remote favorites store.
type Service interface {
	SetFavorite(ctx context.Context, actionID, categoryID string, isFavorite bool) error
	ListFavorites(ctx context.Context) (map[string][]string, error)
}

// Recorder receives remote failures; metrics.Metrics satisfies it.
type Recorder interface {
	RemoteSyncError(op string)
}

// Set maps category ids to favorited action ids.
type Set map[string]domain.IDSet

func (s Set) Has(actionID, categoryID string) bool {
	return s[categoryID].Has(actionID)
}

func (s Set) add(actionID, categoryID string) {
	ids, ok := s[categoryID]
	if !ok {
		ids = domain.IDSet{}
		s[categoryID] = ids
	}
	ids.Add(actionID)
}

func (s Set) remove(actionID, categoryID string) {
	if ids, ok := s[categoryID]; ok {
		ids.Remove(actionID)
		if ids.Len() == 0 {
			delete(s, categoryID)
		}
	}
}

// Map returns the set as sorted id lists keyed by category.
func (s Set) Map() map[string][]string {
	out := make(map[string][]string, len(s))
	for categoryID, ids := range s {
		out[categoryID] = ids.Sorted()
	}
	return out
}

// Synchronizer owns the local favorites of one session.
type Synchronizer struct {
	Service  Service
	Logger   *slog.Logger
	Recorder Recorder
	// Alive reports whether the owning session is still open. Results of
	// remote calls that finish after it turns false are discarded.
	Alive func() bool
	// Concurrency bounds the remote clears issued by one cascade.
	Concurrency int

	mu       sync.Mutex
	favs     Set
	unsynced []domain.Favorite
}

func NewSynchronizer(svc Service, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		Service:     svc,
		Logger:      logger.With("component", "favorites"),
		Concurrency: 4,
		favs:        Set{},
	}
}

func (s *Synchronizer) alive() bool {
	return s.Alive == nil || s.Alive()
}

func (s *Synchronizer) recordFailure(op string) {
	if s.Recorder != nil {
		s.Recorder.RemoteSyncError(op)
	}
}

// IsFavorite reports whether the pair is currently favorited.
func (s *Synchronizer) IsFavorite(actionID, categoryID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.favs.Has(actionID, categoryID)
}

// Favorites returns a copy of the local set.
func (s *Synchronizer) Favorites() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.favs.Map()
}

// ToggleFavorite asks the remote service to set the flag and applies it
// locally only once the service confirmed.
func (s *Synchronizer) ToggleFavorite(ctx context.Context, actionID, categoryID string, desired bool) error {
	if err := s.Service.SetFavorite(ctx, actionID, categoryID, desired); err != nil {
		s.Logger.Warn("favorite toggle failed", "action_id", actionID, "category_id", categoryID, "desired", desired, "error", err)
		s.recordFailure("favorite.toggle")
		return &domain.RemoteSyncError{Op: "favorite.toggle", Retryable: true, Err: err}
	}
	if !s.alive() {
		s.Logger.Debug("discarding favorite result for closed session", "action_id", actionID)
		return domain.ErrSessionClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if desired {
		s.favs.add(actionID, categoryID)
	} else {
		s.favs.remove(actionID, categoryID)
	}
	// The remote flag now matches the local one; a queued clear is stale.
	s.dropUnsynced(actionID, categoryID)
	return nil
}

func (s *Synchronizer) dropUnsynced(actionID, categoryID string) {
	kept := s.unsynced[:0]
	for _, fav := range s.unsynced {
		if fav.ActionID != actionID || fav.CategoryID != categoryID {
			kept = append(kept, fav)
		}
	}
	s.unsynced = kept
}

// Cascade drops the favorite flag of every removed pair. The local flag is
// cleared unconditionally; the remote clears run concurrently and are awaited.
// Failed remote clears are logged and queued for RetryUnsynced.
func (s *Synchronizer) Cascade(ctx context.Context, removed []domain.Favorite) {
	s.mu.Lock()
	var targets []domain.Favorite
	for _, fav := range removed {
		if s.favs.Has(fav.ActionID, fav.CategoryID) {
			targets = append(targets, fav)
			s.favs.remove(fav.ActionID, fav.CategoryID)
		}
	}
	s.mu.Unlock()
	if len(targets) == 0 {
		return
	}

	var g errgroup.Group
	if s.Concurrency > 0 {
		g.SetLimit(s.Concurrency)
	}
	var failedMu sync.Mutex
	var failed []domain.Favorite
	for _, fav := range targets {
		g.Go(func() error {
			if err := s.Service.SetFavorite(ctx, fav.ActionID, fav.CategoryID, false); err != nil {
				s.Logger.Warn("favorite cascade clear failed; local flag dropped",
					"action_id", fav.ActionID, "category_id", fav.CategoryID, "error", err)
				s.recordFailure("favorite.cascade")
				failedMu.Lock()
				failed = append(failed, fav)
				failedMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if len(failed) == 0 || !s.alive() {
		return
	}
	s.mu.Lock()
	s.unsynced = append(s.unsynced, failed...)
	s.mu.Unlock()
}

// Unsynced returns pairs whose remote clear has not been confirmed.
func (s *Synchronizer) Unsynced() []domain.Favorite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Favorite(nil), s.unsynced...)
}

// RetryUnsynced re-issues pending remote clears and returns how many are still pending.
// Pairs that were favorited again since the clear failed are dropped from the queue.
func (s *Synchronizer) RetryUnsynced(ctx context.Context) int {
	s.mu.Lock()
	var pending []domain.Favorite
	for _, fav := range s.unsynced {
		if !s.favs.Has(fav.ActionID, fav.CategoryID) {
			pending = append(pending, fav)
		}
	}
	s.unsynced = nil
	s.mu.Unlock()

	var still []domain.Favorite
	for _, fav := range pending {
		if err := s.Service.SetFavorite(ctx, fav.ActionID, fav.CategoryID, false); err != nil {
			s.recordFailure("favorite.reconcile")
			still = append(still, fav)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fav := range still {
		if !s.favs.Has(fav.ActionID, fav.CategoryID) {
			s.unsynced = append(s.unsynced, fav)
		}
	}
	return len(s.unsynced)
}

// Restore seeds the local set from a persisted snapshot, keeping only selected pairs.
func (s *Synchronizer) Restore(favs map[string][]string, state selection.State) {
	next := Set{}
	for categoryID, ids := range favs {
		for _, id := range ids {
			if state.IsSelected(categoryID, id) {
				next.add(id, categoryID)
			}
		}
	}
	s.mu.Lock()
	s.favs = next
	s.mu.Unlock()
}

// Hydrate loads remote favorites, keeping only pairs that are selected.
func (s *Synchronizer) Hydrate(ctx context.Context, state selection.State) error {
	remote, err := s.Service.ListFavorites(ctx)
	if err != nil {
		s.recordFailure("favorite.list")
		return &domain.RemoteSyncError{Op: "favorite.list", Retryable: true, Err: err}
	}
	if !s.alive() {
		return domain.ErrSessionClosed
	}
	next := Set{}
	dropped := 0
	for categoryID, ids := range remote {
		for _, id := range ids {
			if !state.IsSelected(categoryID, id) {
				dropped++
				continue
			}
			next.add(id, categoryID)
		}
	}
	if dropped > 0 {
		s.Logger.Info("ignored favorites for unselected actions", "count", dropped)
	}
	s.mu.Lock()
	s.favs = next
	s.mu.Unlock()
	return nil
}
