// Package store persists connection definitions and their history.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/jaxron/conndef/pkg/connection"
)

var (
	ErrNotFound   = errors.New("connection definition not found")
	ErrNameExists = errors.New("connection definition name already exists")
)

// Store is a repository of connection definitions. Listing operations
// return definitions ordered by id.
type Store interface {
	// Create assigns an id to def, stores it and returns the id.
	Create(ctx context.Context, def *connection.Definition) (int, error)
	// Update replaces the stored definition with the same id.
	Update(ctx context.Context, def *connection.Definition) error
	Get(ctx context.Context, id int) (*connection.Definition, error)
	GetByName(ctx context.Context, name string) (*connection.Definition, error)
	List(ctx context.Context, search string) ([]*connection.Definition, error)
	// Page returns page pageNo (1-based) of the definitions matching search,
	// and the number of matching definitions.
	Page(ctx context.Context, search string, pageNo, pageSize int) ([]*connection.Definition, int, error)
	AppendHistory(ctx context.Context, entry *connection.HistoryEntry) error
	History(ctx context.Context, id int) ([]*connection.HistoryEntry, error)
}

// Filter returns the definitions matching search, sorted by id.
func Filter(defs []*connection.Definition, search string) []*connection.Definition {
	out := make([]*connection.Definition, 0, len(defs))
	for _, d := range defs {
		if d.MatchesSearch(search) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Slice cuts page pageNo out of defs. Pages past the end are empty.
func Slice(defs []*connection.Definition, pageNo, pageSize int) []*connection.Definition {
	start := (pageNo - 1) * pageSize
	if start < 0 || start >= len(defs) || pageSize <= 0 {
		return []*connection.Definition{}
	}
	end := start + pageSize
	if end > len(defs) {
		end = len(defs)
	}
	return defs[start:end]
}
