// Package catalog indexes the read-only category/action catalog.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"actionboard/internal/config"
	"actionboard/internal/domain"
)

// Provider supplies the immutable list of categories.
type Provider interface {
	ListCategories(ctx context.Context) ([]domain.ActionCategory, error)
}

// Catalog is an indexed, immutable view of the categories a provider returned,
// with mandatory flags applied from configuration.
type Catalog struct {
	categories []domain.ActionCategory
	byID       map[string]int
	actions    map[string]domain.Action
}

// New indexes categories and stamps mandatory minimums from cfg.
func New(categories []domain.ActionCategory, cfg *config.Config) (*Catalog, error) {
	c := &Catalog{
		byID:    make(map[string]int, len(categories)),
		actions: make(map[string]domain.Action),
	}
	for _, cat := range categories {
		if cat.ID == "" {
			return nil, fmt.Errorf("category %q has empty id", cat.Name)
		}
		if _, dup := c.byID[cat.ID]; dup {
			return nil, fmt.Errorf("duplicate category id %s", cat.ID)
		}
		cat.Actions = append([]domain.Action(nil), cat.Actions...)
		for i := range cat.Actions {
			a := &cat.Actions[i]
			if a.ID == "" {
				return nil, fmt.Errorf("category %s has action with empty id", cat.ID)
			}
			if a.ImpactScale < 1 || a.ImpactScale > 10 {
				return nil, fmt.Errorf("action %s impact scale %d outside 1-10", a.ID, a.ImpactScale)
			}
			if _, dup := c.actions[a.ID]; dup {
				return nil, fmt.Errorf("duplicate action id %s", a.ID)
			}
			a.CategoryID = cat.ID
			c.actions[a.ID] = *a
		}
		if cfg != nil {
			if n := cfg.MinRequired(cat.Name); n > 0 {
				cat.Mandatory = true
				cat.MinRequired = n
			}
		}
		c.byID[cat.ID] = len(c.categories)
		c.categories = append(c.categories, cat)
	}
	return c, nil
}

// Load fetches categories from p and indexes them.
func Load(ctx context.Context, p Provider, cfg *config.Config) (*Catalog, error) {
	cats, err := p.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return New(cats, cfg)
}

// Categories returns the categories in catalog order.
func (c *Catalog) Categories() []domain.ActionCategory {
	return append([]domain.ActionCategory(nil), c.categories...)
}

// Mandatory returns the mandatory categories in catalog order.
func (c *Catalog) Mandatory() []domain.ActionCategory {
	var out []domain.ActionCategory
	for _, cat := range c.categories {
		if cat.Mandatory {
			out = append(out, cat)
		}
	}
	return out
}

func (c *Catalog) Category(id string) (domain.ActionCategory, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return domain.ActionCategory{}, false
	}
	return c.categories[idx], true
}

// MustCategory is Category returning a NotFoundError on a miss.
func (c *Catalog) MustCategory(id string) (domain.ActionCategory, error) {
	cat, ok := c.Category(id)
	if !ok {
		return cat, &domain.NotFoundError{Kind: "category", ID: id}
	}
	return cat, nil
}

func (c *Catalog) Action(id string) (domain.Action, bool) {
	a, ok := c.actions[id]
	return a, ok
}

// CategoryName returns the category's name or a placeholder label.
func (c *Catalog) CategoryName(id string) string {
	if cat, ok := c.Category(id); ok {
		return cat.Name
	}
	return domain.UnknownCategory
}

// ActionName returns the action's name or a placeholder label.
func (c *Catalog) ActionName(id string) string {
	if a, ok := c.actions[id]; ok {
		return a.Name
	}
	return domain.UnknownAction
}

// Contains reports whether actionID belongs to categoryID.
func (c *Catalog) Contains(categoryID, actionID string) bool {
	a, ok := c.actions[actionID]
	return ok && a.CategoryID == categoryID
}

// StaticProvider serves a fixed list of categories.
type StaticProvider []domain.ActionCategory

func (p StaticProvider) ListCategories(context.Context) ([]domain.ActionCategory, error) {
	return append([]domain.ActionCategory(nil), p...), nil
}

//go:embed default.yml
var defaultCatalog []byte

// Builtin serves the catalog shipped with the binary.
func Builtin() Provider {
	return builtinProvider{}
}

type builtinProvider struct{}

func (builtinProvider) ListCategories(context.Context) ([]domain.ActionCategory, error) {
	return FromYAML(defaultCatalog)
}

type catalogFile struct {
	Categories []domain.ActionCategory `yaml:"categories"`
}

// FileProvider reads categories from a YAML file.
type FileProvider struct {
	Path string
}

func (p FileProvider) ListCategories(ctx context.Context) ([]domain.ActionCategory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses a catalog document. Category keys default to a slug of the name.
func FromYAML(data []byte) ([]domain.ActionCategory, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid catalog yaml: %w", err)
	}
	for i := range f.Categories {
		if f.Categories[i].Key == "" {
			f.Categories[i].Key = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(f.Categories[i].Name), " ", "_"))
		}
	}
	return f.Categories, nil
}

// Cached memoizes the first successful ListCategories call of the wrapped provider.
type Cached struct {
	Provider Provider

	mu   sync.Mutex
	cats []domain.ActionCategory
}

func (c *Cached) ListCategories(ctx context.Context) ([]domain.ActionCategory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cats != nil {
		return append([]domain.ActionCategory(nil), c.cats...), nil
	}
	cats, err := c.Provider.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	c.cats = cats
	return append([]domain.ActionCategory(nil), cats...), nil
}
