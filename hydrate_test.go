package fw24

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeRelated serves records by id and counts batch calls.
type fakeRelated struct {
	schema  *Schema
	records map[string]Record
	err     error

	mu    sync.Mutex
	calls []GetBatchInput
}

func (f *fakeRelated) Schema() *Schema { return f.schema }

func (f *fakeRelated) SerializationAttributeNames() []string {
	return BuildOpsSchema(f.schema).Get.Output.Names()
}

func (f *fakeRelated) GetBatch(ctx context.Context, in GetBatchInput) (*GetBatchOutput, error) {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := &GetBatchOutput{}
	for _, ids := range in.Identifiers {
		if rec, ok := f.records[fmt.Sprint(ids["id"])]; ok {
			out.Records = append(out.Records, project(rec, nil))
		}
	}
	return out, nil
}

func teamSchema() *Schema {
	return MustSchema(Definition{
		Entity: "team",
		Attributes: []AttributeDefinition{
			{Name: "id", IsIdentifier: true},
			{Name: "members", Type: TypeList, Relation: &RelationDefinition{Entity: "customer"}},
			{Name: "lead", Relation: &RelationDefinition{
				Entity:      "customer",
				Identifiers: []IdentifierMapping{{Source: "leadId", Target: "id"}},
			}},
		},
	})
}

func newHydrationFixture(t *testing.T) (*fakeRelated, *Registry) {
	t.Helper()
	customers := &fakeRelated{
		schema: customerSchema(),
		records: map[string]Record{
			"C1": {"id": "C1", "name": "Ada", "email": "ada@example.com"},
			"C2": {"id": "C2", "name": "Grace", "email": "grace@example.com"},
		},
	}
	registry := NewRegistry()
	require.NoError(t, registry.Register(customers))
	return customers, registry
}

func TestHydrateSingleRelation(t *testing.T) {
	customers, registry := newHydrationFixture(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	core, logs := observer.New(zapcore.WarnLevel)
	hydrator := NewHydrator(registry, zap.New(core), metrics)

	order := orderSchema()
	records := []Record{
		{"id": "O1", "customerId": "C1"},
		{"id": "O2", "customerId": "C1"},
		{"id": "O3", "customerId": "C2"},
		{"id": "O4", "customerId": "C404"},
		{"id": "O5"},
	}
	sel := InferRelationships(order, ParseAttributePaths([]string{"id", "customer.name"}), WithSchemas(registry))

	require.NoError(t, hydrator.Hydrate(context.Background(), order, records, sel))

	require.Len(t, customers.calls, 1)
	call := customers.calls[0]
	assert.Len(t, call.Identifiers, 3)
	assert.ElementsMatch(t, []string{"id", "name"}, call.Selections.Names())
	assert.False(t, call.SkipHydration)

	assert.Equal(t, "Ada", records[0]["customer"].(Record)["name"])
	assert.Equal(t, "Ada", records[1]["customer"].(Record)["name"])
	assert.Equal(t, "Grace", records[2]["customer"].(Record)["name"])

	value, ok := records[3]["customer"]
	assert.True(t, ok)
	assert.Nil(t, value)
	_, ok = records[4]["customer"]
	assert.False(t, ok)

	assert.Equal(t, 1, logs.FilterMessage("related record not found").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.fetches.WithLabelValues("order", "customer")))
}

func TestHydrateLeafSelection(t *testing.T) {
	customers, registry := newHydrationFixture(t)
	hydrator := NewHydrator(registry, nil, nil)

	order := orderSchema()
	records := []Record{{"id": "O1", "customerId": "C1"}}
	sel := InferRelationships(order, ParseAttributePaths([]string{"customer"}), WithSchemas(registry))

	require.NoError(t, hydrator.Hydrate(context.Background(), order, records, sel))

	require.Len(t, customers.calls, 1)
	assert.True(t, customers.calls[0].SkipHydration)
	assert.Equal(t, []string{"id", "name", "email"}, customers.calls[0].Attributes)
	assert.Equal(t, "ada@example.com", records[0]["customer"].(Record)["email"])
}

func TestHydrateManyAndConcurrentRelations(t *testing.T) {
	customers, registry := newHydrationFixture(t)
	hydrator := NewHydrator(registry, nil, nil)

	team := teamSchema()
	records := []Record{
		{"id": "T1", "members": []any{"C1", "C2", "C404"}, "leadId": "C2"},
		{"id": "T2", "members": []any{}, "leadId": "C1"},
	}
	sel := InferRelationships(team, ParseAttributePaths([]string{"members.name", "lead.name"}), WithSchemas(registry))

	require.NoError(t, hydrator.Hydrate(context.Background(), team, records, sel))

	assert.Len(t, customers.calls, 2)

	members := records[0]["members"].([]any)
	require.Len(t, members, 2)
	assert.Equal(t, "Ada", members[0].(Record)["name"])
	assert.Equal(t, "Grace", members[1].(Record)["name"])
	assert.Equal(t, []any{}, records[1]["members"])

	assert.Equal(t, "Grace", records[0]["lead"].(Record)["name"])
	assert.Equal(t, "Ada", records[1]["lead"].(Record)["name"])
}

func TestHydrateMapReference(t *testing.T) {
	customers, registry := newHydrationFixture(t)
	hydrator := NewHydrator(registry, nil, nil)

	order := orderSchema()
	records := []Record{{"id": "O1", "customer": map[string]any{"customerId": "C2"}}}
	sel := InferRelationships(order, ParseAttributePaths([]string{"customer.name"}), WithSchemas(registry))

	require.NoError(t, hydrator.Hydrate(context.Background(), order, records, sel))
	require.Len(t, customers.calls, 1)
	assert.Equal(t, "Grace", records[0]["customer"].(Record)["name"])
}

func TestHydrateNumericIdentifiers(t *testing.T) {
	customers, registry := newHydrationFixture(t)
	customers.records["7"] = Record{"id": float64(7), "name": "Seven"}
	hydrator := NewHydrator(registry, nil, nil)

	order := orderSchema()
	records := []Record{{"id": "O1", "customerId": 7}, {"id": "O2", "customerId": "7"}}
	sel := InferRelationships(order, ParseAttributePaths([]string{"customer.name"}), WithSchemas(registry))

	require.NoError(t, hydrator.Hydrate(context.Background(), order, records, sel))
	require.Len(t, customers.calls, 1)
	assert.Len(t, customers.calls[0].Identifiers, 1)
	assert.Equal(t, "Seven", records[0]["customer"].(Record)["name"])
	assert.Equal(t, "Seven", records[1]["customer"].(Record)["name"])
}

func TestHydrateErrors(t *testing.T) {
	order := orderSchema()
	records := []Record{{"id": "O1", "customerId": "C1"}}

	t.Run("no service for related entity", func(t *testing.T) {
		hydrator := NewHydrator(NewRegistry(), nil, nil)
		sel := InferRelationships(order, ParseAttributePaths([]string{"customer.name"}))
		err := hydrator.Hydrate(context.Background(), order, records, sel)
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("nested selection without relation metadata", func(t *testing.T) {
		_, registry := newHydrationFixture(t)
		hydrator := NewHydrator(registry, nil, nil)
		err := hydrator.Hydrate(context.Background(), order, records, ParseAttributePaths([]string{"customer.name"}))
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("fetch failure", func(t *testing.T) {
		customers, registry := newHydrationFixture(t)
		customers.err = errors.New("unavailable")
		hydrator := NewHydrator(registry, nil, nil)
		sel := InferRelationships(order, ParseAttributePaths([]string{"customer.name"}), WithSchemas(registry))

		err := hydrator.Hydrate(context.Background(), order, records, sel)
		assert.ErrorContains(t, err, "unavailable")
		_, hydrated := records[0]["customer"]
		assert.False(t, hydrated)
	})

	t.Run("nothing to fetch", func(t *testing.T) {
		customers, registry := newHydrationFixture(t)
		hydrator := NewHydrator(registry, nil, nil)
		sel := InferRelationships(order, ParseAttributePaths([]string{"customer.name"}), WithSchemas(registry))

		require.NoError(t, hydrator.Hydrate(context.Background(), order, []Record{{"id": "O9"}}, sel))
		assert.Empty(t, customers.calls)
	})
}
