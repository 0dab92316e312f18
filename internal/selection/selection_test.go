package selection_test

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"actionboard/internal/catalog"
	"actionboard/internal/config"
	"actionboard/internal/domain"
	"actionboard/internal/selection"
)

func category(id, name string, n int) domain.ActionCategory {
	cat := domain.ActionCategory{ID: id, Name: name, Key: id}
	for i := 1; i <= n; i++ {
		cat.Actions = append(cat.Actions, domain.Action{
			ID:          fmt.Sprintf("%s-%d", id, i),
			Name:        fmt.Sprintf("%s action %d", name, i),
			ImpactScale: 1 + i%10,
		})
	}
	return cat
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cfg := config.Default()
	cat, err := catalog.New([]domain.ActionCategory{
		category("teamwork", "Teamwork", 10),
		category("planning", "Planning", 4),
		category("communication", "Communication", 2),
	}, cfg)
	require.NoError(t, err)
	return cat
}

func mustCategory(t *testing.T, cat *catalog.Catalog, id string) domain.ActionCategory {
	t.Helper()
	c, ok := cat.Category(id)
	require.True(t, ok, "category %s", id)
	return c
}

func TestToggleActionRejectsDroppingBelowMinimum(t *testing.T) {
	cat := testCatalog(t)
	teamwork := mustCategory(t, cat, "teamwork")
	require.True(t, teamwork.Mandatory)
	require.Equal(t, 3, teamwork.Required())

	s := selection.New()
	var err error
	for _, id := range []string{"teamwork-1", "teamwork-2", "teamwork-3"} {
		s, err = selection.ToggleAction(s, teamwork, id)
		require.NoError(t, err)
	}
	require.Equal(t, 3, selection.SelectedCount(s, "teamwork"))

	next, err := selection.ToggleAction(s, teamwork, "teamwork-2")
	var violation *domain.ConstraintViolation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, "teamwork", violation.CategoryID)
	assert.Equal(t, 3, violation.MinRequired)
	assert.Equal(t, 3, selection.SelectedCount(next, "teamwork"))
	assert.True(t, next.Selected.Has("teamwork-2"))
}

func TestToggleActionAllowsDeselectAboveMinimum(t *testing.T) {
	cat := testCatalog(t)
	teamwork := mustCategory(t, cat, "teamwork")
	s := selection.ToggleAllInCategory(selection.New(), teamwork, true)

	s, err := selection.ToggleAction(s, teamwork, "teamwork-10")
	require.NoError(t, err)
	assert.Equal(t, 9, selection.SelectedCount(s, "teamwork"))
	assert.False(t, s.Selected.Has("teamwork-10"))
}

func TestToggleActionBeforeInitializationAllowsDeselect(t *testing.T) {
	cat := testCatalog(t)
	teamwork := mustCategory(t, cat, "teamwork")
	s, err := selection.ToggleAction(selection.New(), teamwork, "teamwork-4")
	require.NoError(t, err)

	s, err = selection.ToggleAction(s, teamwork, "teamwork-4")
	require.NoError(t, err)
	assert.Equal(t, 0, selection.SelectedCount(s, "teamwork"))
}

func TestToggleActionUnknownAction(t *testing.T) {
	cat := testCatalog(t)
	planning := mustCategory(t, cat, "planning")
	_, err := selection.ToggleAction(selection.New(), planning, "teamwork-1")
	var nf *domain.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "teamwork-1", nf.ID)
}

func TestToggleAllInMandatoryCategoryKeepsFirstN(t *testing.T) {
	cat := testCatalog(t)
	teamwork := mustCategory(t, cat, "teamwork")

	s := selection.ToggleAllInCategory(selection.New(), teamwork, true)
	require.Equal(t, 10, selection.SelectedCount(s, "teamwork"))
	require.True(t, selection.IsCategoryFullySelected(s, teamwork))

	s = selection.ToggleAllInCategory(s, teamwork, false)
	assert.Equal(t, []string{"teamwork-1", "teamwork-2", "teamwork-3"}, s.ByCategory["teamwork"].Sorted())
	assert.Equal(t, []string{"teamwork-1", "teamwork-2", "teamwork-3"}, s.Selected.Sorted())
	assert.False(t, selection.IsCategoryFullySelected(s, teamwork))
}

func TestToggleAllInOrdinaryCategoryClears(t *testing.T) {
	cat := testCatalog(t)
	planning := mustCategory(t, cat, "planning")
	teamwork := mustCategory(t, cat, "teamwork")
	s := selection.ToggleAllInCategory(selection.New(), planning, true)
	s = selection.ToggleAllInCategory(s, teamwork, true)

	s = selection.ToggleAllInCategory(s, planning, false)
	assert.Equal(t, 0, selection.SelectedCount(s, "planning"))
	assert.Equal(t, 10, s.Selected.Len())
	assert.Equal(t, 0, selection.SelectedCount(s, "missing"))
}

func TestToggleAllIsIdempotent(t *testing.T) {
	cat := testCatalog(t)
	teamwork := mustCategory(t, cat, "teamwork")
	once := selection.ToggleAllInCategory(selection.New(), teamwork, true)
	twice := selection.ToggleAllInCategory(once, teamwork, true)
	assert.Equal(t, once.Snapshot(), twice.Snapshot())
}

func TestSmallMandatoryCategoryClampsMinimum(t *testing.T) {
	cat := testCatalog(t)
	comm := mustCategory(t, cat, "communication")
	require.Equal(t, 2, comm.Required())

	s := selection.ToggleAllInCategory(selection.New(), comm, true)
	s = selection.ToggleAllInCategory(s, comm, false)
	assert.Equal(t, 2, selection.SelectedCount(s, "communication"))
	_, err := selection.ToggleAction(s, comm, "communication-1")
	assert.Error(t, err)
}

func TestTransitionsDoNotMutateInput(t *testing.T) {
	cat := testCatalog(t)
	planning := mustCategory(t, cat, "planning")
	s := selection.New()
	_, err := selection.ToggleAction(s, planning, "planning-1")
	require.NoError(t, err)
	_ = selection.ToggleAllInCategory(s, planning, true)
	assert.Equal(t, 0, s.Selected.Len())
}

func TestDeselected(t *testing.T) {
	cat := testCatalog(t)
	teamwork := mustCategory(t, cat, "teamwork")
	before := selection.ToggleAllInCategory(selection.New(), teamwork, true)
	after := selection.ToggleAllInCategory(before, teamwork, false)

	removed := selection.Deselected(before, after)
	require.Len(t, removed, 7)
	for _, fav := range removed {
		assert.Equal(t, "teamwork", fav.CategoryID)
		assert.False(t, after.Selected.Has(fav.ActionID))
	}
}

func TestFromSnapshotRepairsState(t *testing.T) {
	cat := testCatalog(t)
	s := selection.FromSnapshot(domain.SelectionSnapshot{
		Selected: []string{"planning-1", "ghost"},
		ByCategory: map[string][]string{
			"planning": {"planning-1", "teamwork-1"},
			"teamwork": {"teamwork-1", "teamwork-2", "teamwork-3"},
		},
	}, cat)
	require.NoError(t, selection.CheckInvariants(s, cat))
	assert.Equal(t, []string{"planning-1", "teamwork-1", "teamwork-2", "teamwork-3"}, s.Selected.Sorted())
	assert.True(t, s.Initialized.Has("teamwork"))

	legacy := selection.FromSnapshot(domain.SelectionSnapshot{Selected: []string{"planning-2", "ghost"}}, cat)
	assert.Equal(t, []string{"planning-2"}, legacy.ByCategory["planning"].Sorted())
}

func TestInvariantsHoldUnderRandomOperations(t *testing.T) {
	cat := testCatalog(t)
	cats := cat.Categories()
	rng := rand.New(rand.NewSource(42))
	s := selection.New()
	for i := 0; i < 2000; i++ {
		c := cats[rng.Intn(len(cats))]
		if rng.Intn(4) == 0 {
			s = selection.ToggleAllInCategory(s, c, rng.Intn(2) == 0)
		} else {
			a := c.Actions[rng.Intn(len(c.Actions))]
			next, err := selection.ToggleAction(s, c, a.ID)
			if err != nil {
				var violation *domain.ConstraintViolation
				require.True(t, errors.As(err, &violation), "unexpected error %v", err)
				require.Equal(t, s.Snapshot(), next.Snapshot())
			}
			s = next
		}
		require.NoError(t, selection.CheckInvariants(s, cat), "step %d", i)
	}
}
