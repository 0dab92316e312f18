package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"actionboard/internal/config"
	"actionboard/internal/domain"
)

type countingProvider struct {
	calls int
	err   error
}

func (p *countingProvider) ListCategories(context.Context) ([]domain.ActionCategory, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return []domain.ActionCategory{{ID: "c", Name: "C", Actions: []domain.Action{{ID: "a", Name: "A", ImpactScale: 1}}}}, nil
}

func TestBuiltinCatalogAppliesMandatoryRules(t *testing.T) {
	cat, err := Load(context.Background(), Builtin(), config.Default())
	require.NoError(t, err)

	var names []string
	for _, c := range cat.Mandatory() {
		names = append(names, c.Name)
		assert.Equal(t, 3, c.Required())
	}
	assert.Equal(t, []string{"Teamwork", "Communication", "Reliability"}, names)

	a, ok := cat.Action("reliability-oncall")
	require.True(t, ok)
	assert.Equal(t, "reliability", a.CategoryID)
	assert.True(t, cat.Contains("reliability", "reliability-oncall"))
	assert.False(t, cat.Contains("teamwork", "reliability-oncall"))
}

func TestPlaceholdersForUnknownIDs(t *testing.T) {
	cat, err := New(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.UnknownCategory, cat.CategoryName("nope"))
	assert.Equal(t, domain.UnknownAction, cat.ActionName("nope"))

	_, err = cat.MustCategory("nope")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "category", nf.Kind)
}

func TestNewRejectsBadCatalogs(t *testing.T) {
	cases := map[string][]domain.ActionCategory{
		"empty category id": {{Name: "X"}},
		"duplicate category": {
			{ID: "x", Name: "X"},
			{ID: "x", Name: "Y"},
		},
		"impact out of range": {{ID: "x", Name: "X", Actions: []domain.Action{{ID: "a", ImpactScale: 11}}}},
		"duplicate action": {
			{ID: "x", Name: "X", Actions: []domain.Action{{ID: "a", ImpactScale: 1}}},
			{ID: "y", Name: "Y", Actions: []domain.Action{{ID: "a", ImpactScale: 1}}},
		},
	}
	for name, cats := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(cats, nil)
			assert.Error(t, err)
		})
	}
}

func TestFileProviderDefaultsKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yml")
	doc := "categories:\n  - id: dx\n    name: Developer Experience\n    actions:\n      - {id: dx-1, name: Fast builds, impact_scale: 4}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cats, err := FileProvider{Path: path}.ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "developer_experience", cats[0].Key)
}

func TestCachedMemoizesSuccessOnly(t *testing.T) {
	inner := &countingProvider{err: errors.New("down")}
	cached := &Cached{Provider: inner}
	_, err := cached.ListCategories(context.Background())
	require.Error(t, err)

	inner.err = nil
	for i := 0; i < 3; i++ {
		cats, err := cached.ListCategories(context.Background())
		require.NoError(t, err)
		require.Len(t, cats, 1)
	}
	assert.Equal(t, 2, inner.calls)
}
