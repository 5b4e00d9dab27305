package fw24

import (
	"context"
	"sort"
)

// Persistence is the storage contract an EntityService delegates to.
// [DynamoStore] and localstore.Store implement it.
type Persistence interface {
	// GetEntity returns the records matching each identifier set. Missing
	// records are omitted; the result order is unspecified.
	GetEntity(ctx context.Context, in GetEntityInput) ([]Record, error)
	CreateEntity(ctx context.Context, in CreateEntityInput) (Record, error)
	UpdateEntity(ctx context.Context, in UpdateEntityInput) (Record, error)
	// DeleteEntity removes the addressed records and returns the ones that
	// existed.
	DeleteEntity(ctx context.Context, in DeleteEntityInput) ([]Record, error)
	ListEntity(ctx context.Context, in ListEntityInput) (*ListEntityOutput, error)
	QueryEntity(ctx context.Context, in ListEntityInput) (*ListEntityOutput, error)
}

// GetEntityInput reads records by primary identifiers.
type GetEntityInput struct {
	Schema      *Schema
	Identifiers []Identifiers
	// Attributes is the top-level projection. Empty means every attribute.
	Attributes []string
}

// CreateEntityInput writes a new record.
type CreateEntityInput struct {
	Schema *Schema
	Data   Record
}

// UpdateEntityInput merges Data into an existing record.
type UpdateEntityInput struct {
	Schema      *Schema
	Identifiers Identifiers
	Data        Record
}

// DeleteEntityInput removes records by primary identifiers.
type DeleteEntityInput struct {
	Schema      *Schema
	Identifiers []Identifiers
}

// ListEntityInput drives both listing and access-pattern queries. For a
// query, AccessPattern names the pattern and Identifiers must hold its
// partition key attributes; sort key attributes narrow by prefix.
type ListEntityInput struct {
	Schema         *Schema
	AccessPattern  string
	Identifiers    Identifiers
	Attributes     []string
	Filters        FilterGroup
	Limit          int
	Cursor         string
	SortDescending bool
}

// ListEntityOutput is one page of stored records.
type ListEntityOutput struct {
	Records []Record
	// Cursor continues the listing. Empty when there are no more records.
	Cursor string
}

// project copies the named top-level attributes of rec. No names means a
// shallow copy of everything.
func project(rec Record, names []string) Record {
	if rec == nil {
		return nil
	}
	if len(names) == 0 {
		out := make(Record, len(rec))
		for k, v := range rec {
			out[k] = v
		}
		return out
	}
	out := make(Record, len(names))
	for _, name := range names {
		if v, ok := rec[name]; ok {
			out[name] = v
		}
	}
	return out
}

func sortedNames(rec Record) []string {
	names := make([]string, 0, len(rec))
	for name := range rec {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
