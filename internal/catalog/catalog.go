// internal/catalog/catalog.go
package catalog

import (
	"fmt"
	"strings"
	"sync"

	stderrors "bma-social-bot/internal/common/errors"
	"bma-social-bot/internal/models"
)

// AliasEntry pairs one lookup alias with its owning venue.
type AliasEntry struct {
	Alias string
	Venue *models.Venue
}

// index is the immutable snapshot readers see. Reloads build a fresh index
// and swap the pointer; readers never observe a half-updated catalog.
type index struct {
	byAlias map[string]*models.Venue
	aliases []AliasEntry
	byName  map[string]*models.Venue
	venues  []*models.Venue
}

// Catalog holds the authoritative in-memory set of venues and zones. It is
// read-heavy during conversation turns and replaced wholesale on refresh.
type Catalog struct {
	mu  sync.RWMutex
	idx *index
}

func New() *Catalog {
	return &Catalog{}
}

// LoadAll replaces the entire catalog atomically. The whole batch is rejected
// if any alias appears under two different venues; the previous catalog stays
// live in that case.
func (c *Catalog) LoadAll(records []models.Venue) error {
	next := &index{
		byAlias: make(map[string]*models.Venue),
		byName:  make(map[string]*models.Venue),
	}

	for i := range records {
		v := &records[i]

		if _, dup := next.byName[v.Name]; dup {
			return stderrors.NewDataIntegrityError(fmt.Sprintf("duplicate venue name %q", v.Name))
		}
		next.byName[v.Name] = v
		next.venues = append(next.venues, v)

		for _, alias := range aliasSet(v) {
			if owner, taken := next.byAlias[alias]; taken && owner != v {
				return stderrors.NewDataIntegrityError(
					fmt.Sprintf("alias %q claimed by both %q and %q", alias, owner.Name, v.Name))
			}
			if _, taken := next.byAlias[alias]; !taken {
				next.byAlias[alias] = v
				next.aliases = append(next.aliases, AliasEntry{Alias: alias, Venue: v})
			}
		}
	}

	c.mu.Lock()
	c.idx = next
	c.mu.Unlock()
	return nil
}

// Loaded reports whether a catalog batch has been accepted.
func (c *Catalog) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.idx != nil
}

// ByExactAlias does a case-insensitive exact lookup.
func (c *Catalog) ByExactAlias(text string) *models.Venue {
	c.mu.RLock()
	idx := c.idx
	c.mu.RUnlock()
	if idx == nil {
		return nil
	}
	return idx.byAlias[normalizeAlias(text)]
}

// VenueByName looks a venue up by its canonical name. Used to rehydrate a
// session's venue reference after a catalog refresh.
func (c *Catalog) VenueByName(name string) *models.Venue {
	c.mu.RLock()
	idx := c.idx
	c.mu.RUnlock()
	if idx == nil {
		return nil
	}
	return idx.byName[name]
}

// AllAliases returns every (alias, venue) pair for fuzzy scoring. Order is
// not significant.
func (c *Catalog) AllAliases() []AliasEntry {
	c.mu.RLock()
	idx := c.idx
	c.mu.RUnlock()
	if idx == nil {
		return nil
	}
	return idx.aliases
}

// Venues returns the current venue set.
func (c *Catalog) Venues() []*models.Venue {
	c.mu.RLock()
	idx := c.idx
	c.mu.RUnlock()
	if idx == nil {
		return nil
	}
	return idx.venues
}

// ZonesOf returns a venue's zones in insertion order.
func (c *Catalog) ZonesOf(v *models.Venue) []models.Zone {
	if v == nil {
		return nil
	}
	return v.Zones
}

// aliasSet yields the canonical name plus aliases, normalized.
func aliasSet(v *models.Venue) []string {
	out := make([]string, 0, len(v.Aliases)+1)
	out = append(out, normalizeAlias(v.Name))
	for _, a := range v.Aliases {
		n := normalizeAlias(a)
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

func normalizeAlias(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
