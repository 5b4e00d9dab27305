package entitymock

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/johnny-rice/fw24"
	"github.com/johnny-rice/fw24/localstore"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"
)

// NewLocalStore opens an in-memory badger store that is closed when the
// test ends.
func NewLocalStore(t testing.TB) *localstore.Store {
	t.Helper()
	store, err := localstore.Open(localstore.Options{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to open local store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Failed to close local store: %v", err)
		}
	})
	return store
}

// Services is a registry of entity services sharing one store.
type Services struct {
	Registry *fw24.Registry
	Metrics  *fw24.Metrics
	Gatherer *prometheus.Registry
	byEntity map[string]*fw24.EntityService
}

// NewServices registers one service per schema against store, logging to
// the test log.
func NewServices(t testing.TB, store fw24.Persistence, schemas ...*fw24.Schema) *Services {
	t.Helper()
	reg := prometheus.NewRegistry()
	s := &Services{
		Registry: fw24.NewRegistry(),
		Metrics:  fw24.NewMetrics(reg),
		Gatherer: reg,
		byEntity: make(map[string]*fw24.EntityService, len(schemas)),
	}
	logger := zaptest.NewLogger(t)
	for _, schema := range schemas {
		svc := fw24.NewEntityService(schema, store,
			fw24.WithRegistry(s.Registry),
			fw24.WithLogger(logger),
			fw24.WithMetrics(s.Metrics),
		)
		if err := s.Registry.Register(svc); err != nil {
			t.Fatalf("Failed to register %s: %v", schema.Entity, err)
		}
		s.byEntity[schema.Entity] = svc
	}
	return s
}

// Service returns the service for entity or fails the test.
func (s *Services) Service(t testing.TB, entity string) *fw24.EntityService {
	t.Helper()
	svc, ok := s.byEntity[entity]
	if !ok {
		t.Fatalf("No service registered for %s", entity)
	}
	return svc
}

// WithLocalDynamoDB runs fn against DynamoDB Local on port and skips the
// test when it is not reachable.
func WithLocalDynamoDB(t *testing.T, port int, fn func(local *LocalDynamoDB)) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	local := NewLocalDynamoDB(port)
	if !local.IsAvailable(context.Background()) {
		t.Skipf("DynamoDB Local not available on port %d", port)
	}
	fn(local)
}

// WithIsolatedTable creates a uniquely named entity table for schemas and
// deletes it after fn returns.
func WithIsolatedTable(t *testing.T, local *LocalDynamoDB, schemas []*fw24.Schema, fn func(table *fw24.Table)) {
	ctx := context.Background()
	table := fw24.NewTable(fmt.Sprintf("test-%d", time.Now().UnixNano()))

	if err := local.CreateEntityTable(ctx, table, schemas...); err != nil {
		t.Fatalf("Failed to create test table %s: %v", table.TableName, err)
	}
	defer func() {
		if err := local.DeleteTable(ctx, table.TableName); err != nil {
			t.Errorf("Failed to cleanup table %s: %v", table.TableName, err)
		}
	}()
	fn(table)
}

// SeedTestData seeds JSON:API fixtures into a store.
type SeedTestData struct {
	seeder *fw24.Seeder
}

func NewSeedTestData(store fw24.Persistence, schemas fw24.SchemaLookup) *SeedTestData {
	return &SeedTestData{seeder: fw24.NewSeeder(store, schemas, nil)}
}

// SeedFile seeds the JSON:API document at path and fails the test on error.
func (s *SeedTestData) SeedFile(t testing.TB, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open fixture %s: %v", path, err)
	}
	defer f.Close()
	count, err := s.seeder.SeedFromJSON(context.Background(), f)
	if err != nil {
		t.Fatalf("Failed to seed %s: %v", path, err)
	}
	return count
}

// Seed seeds an inline JSON:API document and fails the test on error.
func (s *SeedTestData) Seed(t testing.TB, document string) int {
	t.Helper()
	count, err := s.seeder.SeedFromJSON(context.Background(), strings.NewReader(document))
	if err != nil {
		t.Fatalf("Failed to seed document: %v", err)
	}
	return count
}
