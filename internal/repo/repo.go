package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"actionboard/internal/domain"
	"actionboard/internal/events"
)

// Repo is the SQLite persistence adapter.
type Repo struct {
	DB     *sql.DB
	Events events.Writer
	Now    func() time.Time
}

var ErrNotFound = errors.New("not found")

// ErrRejected marks commits the store refused for the snapshot's content.
// Retrying the same snapshot fails the same way.
var ErrRejected = errors.New("snapshot rejected")

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Commit replaces everything stored for the snapshot's organization in one
// transaction and records an onboarding.committed event.
func (r Repo) Commit(ctx context.Context, snap domain.Snapshot) error {
	if snap.Organization.ID == "" {
		return fmt.Errorf("%w: organization id is required", ErrRejected)
	}
	if err := r.commit(ctx, snap); err != nil {
		if isConstraint(err) {
			return fmt.Errorf("%w: %w", ErrRejected, err)
		}
		return err
	}
	return nil
}

func isConstraint(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

func (r Repo) commit(ctx context.Context, snap domain.Snapshot) error {
	committedAt := snap.CommittedAt
	if committedAt == "" {
		committedAt = r.now().UTC().Format(time.RFC3339)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	orgID := snap.Organization.ID
	if _, err := tx.ExecContext(ctx, `INSERT INTO organizations(id,name,created_at,committed_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, committed_at=excluded.committed_at`,
		orgID, snap.Organization.Name, committedAt, committedAt); err != nil {
		return fmt.Errorf("upsert organization: %w", err)
	}
	for _, table := range []string{"favorites", "team_members", "team_categories", "teams", "members", "selections"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE org_id=?`, table), orgID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for _, categoryID := range sortedKeys(snap.Selection.ByCategory) {
		for _, actionID := range snap.Selection.ByCategory[categoryID] {
			if _, err := tx.ExecContext(ctx, `INSERT INTO selections(org_id,category_id,action_id) VALUES (?,?,?)`, orgID, categoryID, actionID); err != nil {
				return fmt.Errorf("insert selection %s: %w", actionID, err)
			}
		}
	}
	for i, m := range snap.Members {
		if _, err := tx.ExecContext(ctx, `INSERT INTO members(org_id,id,full_name,email,position) VALUES (?,?,?,?,?)`,
			orgID, m.ID, m.FullName, m.Email, i); err != nil {
			return fmt.Errorf("insert member %s: %w", m.ID, err)
		}
	}
	for i, t := range snap.Teams {
		if _, err := tx.ExecContext(ctx, `INSERT INTO teams(org_id,id,name,position) VALUES (?,?,?,?)`, orgID, t.ID, t.Name, i); err != nil {
			return fmt.Errorf("insert team %s: %w", t.ID, err)
		}
		for j, c := range t.Categories {
			if _, err := tx.ExecContext(ctx, `INSERT INTO team_categories(org_id,team_id,category_id,category_name,position) VALUES (?,?,?,?,?)`,
				orgID, t.ID, c.ID, c.Name, j); err != nil {
				return fmt.Errorf("insert team category %s/%s: %w", t.ID, c.ID, err)
			}
		}
		for j, memberID := range t.MemberIDs {
			if _, err := tx.ExecContext(ctx, `INSERT INTO team_members(org_id,team_id,member_id,position) VALUES (?,?,?,?)`,
				orgID, t.ID, memberID, j); err != nil {
				return fmt.Errorf("insert team member %s/%s: %w", t.ID, memberID, err)
			}
		}
	}
	favorites := 0
	for _, categoryID := range sortedKeys(snap.Favorites) {
		for _, actionID := range snap.Favorites[categoryID] {
			if _, err := tx.ExecContext(ctx, `INSERT INTO favorites(org_id,category_id,action_id) VALUES (?,?,?)`, orgID, categoryID, actionID); err != nil {
				return fmt.Errorf("insert favorite %s: %w", actionID, err)
			}
			favorites++
		}
	}
	if err := r.Events.Append(ctx, tx, events.TypeCommitted, orgID, "organization", orgID, "", events.EventPayload{
		"selected":  len(snap.Selection.Selected),
		"teams":     len(snap.Teams),
		"members":   len(snap.Members),
		"favorites": favorites,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// Load reads the last committed snapshot of an organization.
func (r Repo) Load(ctx context.Context, orgID string) (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,committed_at FROM organizations WHERE id=?`, orgID).
		Scan(&snap.Organization.ID, &snap.Organization.Name, &snap.CommittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, fmt.Errorf("organization %s: %w", orgID, ErrNotFound)
	}
	if err != nil {
		return snap, err
	}
	if snap.Selection, err = r.loadSelection(ctx, orgID); err != nil {
		return snap, err
	}
	if snap.Members, err = r.loadMembers(ctx, orgID); err != nil {
		return snap, err
	}
	if snap.Teams, err = r.loadTeams(ctx, orgID); err != nil {
		return snap, err
	}
	if snap.Favorites, err = r.loadFavorites(ctx, orgID); err != nil {
		return snap, err
	}
	return snap, nil
}

func (r Repo) loadSelection(ctx context.Context, orgID string) (domain.SelectionSnapshot, error) {
	sel := domain.SelectionSnapshot{ByCategory: map[string][]string{}}
	rows, err := r.DB.QueryContext(ctx, `SELECT category_id,action_id FROM selections WHERE org_id=? ORDER BY action_id`, orgID)
	if err != nil {
		return sel, err
	}
	defer rows.Close()
	for rows.Next() {
		var categoryID, actionID string
		if err := rows.Scan(&categoryID, &actionID); err != nil {
			return sel, err
		}
		sel.Selected = append(sel.Selected, actionID)
		sel.ByCategory[categoryID] = append(sel.ByCategory[categoryID], actionID)
	}
	return sel, rows.Err()
}

func (r Repo) loadMembers(ctx context.Context, orgID string) ([]domain.Member, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,full_name,email FROM members WHERE org_id=? ORDER BY position`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.ID, &m.FullName, &m.Email); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) loadTeams(ctx context.Context, orgID string) ([]domain.Team, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name FROM teams WHERE org_id=? ORDER BY position`, orgID)
	if err != nil {
		return nil, err
	}
	var res []domain.Team
	index := map[string]int{}
	for rows.Next() {
		var t domain.Team
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			rows.Close()
			return nil, err
		}
		index[t.ID] = len(res)
		res = append(res, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	catRows, err := r.DB.QueryContext(ctx, `SELECT team_id,category_id,category_name FROM team_categories WHERE org_id=? ORDER BY team_id,position`, orgID)
	if err != nil {
		return nil, err
	}
	for catRows.Next() {
		var teamID string
		var c domain.TeamCategory
		if err := catRows.Scan(&teamID, &c.ID, &c.Name); err != nil {
			catRows.Close()
			return nil, err
		}
		if i, ok := index[teamID]; ok {
			res[i].Categories = append(res[i].Categories, c)
		}
	}
	catRows.Close()
	if err := catRows.Err(); err != nil {
		return nil, err
	}

	memberRows, err := r.DB.QueryContext(ctx, `SELECT team_id,member_id FROM team_members WHERE org_id=? ORDER BY team_id,position`, orgID)
	if err != nil {
		return nil, err
	}
	defer memberRows.Close()
	for memberRows.Next() {
		var teamID, memberID string
		if err := memberRows.Scan(&teamID, &memberID); err != nil {
			return nil, err
		}
		if i, ok := index[teamID]; ok {
			res[i].MemberIDs = append(res[i].MemberIDs, memberID)
		}
	}
	return res, memberRows.Err()
}

func (r Repo) loadFavorites(ctx context.Context, orgID string) (map[string][]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT category_id,action_id FROM favorites WHERE org_id=? ORDER BY category_id,action_id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string][]string{}
	for rows.Next() {
		var categoryID, actionID string
		if err := rows.Scan(&categoryID, &actionID); err != nil {
			return nil, err
		}
		res[categoryID] = append(res[categoryID], actionID)
	}
	return res, rows.Err()
}

// ListOrganizations returns committed organizations, most recent first.
func (r Repo) ListOrganizations(ctx context.Context) ([]domain.OrganizationSummary, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT o.id,o.name,o.committed_at,
  (SELECT COUNT(*) FROM selections s WHERE s.org_id=o.id),
  (SELECT COUNT(*) FROM teams t WHERE t.org_id=o.id),
  (SELECT COUNT(*) FROM members m WHERE m.org_id=o.id)
FROM organizations o ORDER BY o.committed_at DESC, o.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OrganizationSummary
	for rows.Next() {
		var o domain.OrganizationSummary
		if err := rows.Scan(&o.ID, &o.Name, &o.CommittedAt, &o.Selected, &o.Teams, &o.Members); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// LatestEvents returns events newest first. A positive cursor returns events older than it.
func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, orgID, evtType string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if orgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, orgID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,org_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	return r.queryEvents(ctx, query, append(args, normalizeLimit(limit))...)
}

// EventsAfter returns events with ids greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, orgID string) ([]domain.Event, error) {
	clauses := []string{"id>?"}
	args := []any{cursor}
	if orgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, orgID)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,org_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id ASC LIMIT ?`,
		strings.Join(clauses, " AND "))
	return r.queryEvents(ctx, query, append(args, normalizeLimit(limit))...)
}

// LatestEventID returns the newest event id, or 0 when there are none.
func (r Repo) LatestEventID(ctx context.Context, orgID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if orgID != "" {
		query += ` WHERE org_id=?`
		args = append(args, orgID)
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var orgID, entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &orgID, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.OrgID = orgID.String
		e.EntityID = entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
