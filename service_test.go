package fw24_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/johnny-rice/fw24"
	"github.com/johnny-rice/fw24/entitymock"
	recassert "github.com/johnny-rice/fw24/entitymock/assert"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serviceSchemas() (customer, order *fw24.Schema) {
	customer = entitymock.NewSchema("customer",
		entitymock.WithAttribute("id", fw24.TypeString, entitymock.Identifier()),
		entitymock.WithAttribute("name", fw24.TypeString, entitymock.Required()),
		entitymock.WithAttribute("email", fw24.TypeString),
		entitymock.WithAttribute("tier", fw24.TypeString, entitymock.Creatable(false)),
		entitymock.WithAttribute("secret", fw24.TypeString, entitymock.Hidden()),
	)
	order = entitymock.NewSchema("order",
		entitymock.WithAttribute("id", fw24.TypeString, entitymock.Identifier()),
		entitymock.WithAttribute("customerId", fw24.TypeString),
		entitymock.WithAttribute("status", fw24.TypeString),
		entitymock.WithAttribute("total", fw24.TypeNumber),
		entitymock.WithAttribute("customer", fw24.TypeAny, entitymock.RelatesTo("customer", "customerId", "id")),
		entitymock.WithIndex("primary", []string{"id"}),
		entitymock.WithIndex("byCustomer", []string{"customerId"}, "status", "id"),
	)
	return customer, order
}

const serviceFixtures = `[
  {"type": "customer", "id": "C1", "attributes": {"name": "Ada Lovelace", "email": "ada@example.com", "secret": "s1"}},
  {"type": "customer", "id": "C2", "attributes": {"name": "Grace Hopper", "email": "grace@example.org"}},
  {"type": "customer", "id": "C3", "attributes": {"name": "Alan Turing", "email": "alan@example.com"}},
  {"type": "order", "id": "O1", "attributes": {"customerId": "C1", "status": "open", "total": 10}},
  {"type": "order", "id": "O2", "attributes": {"customerId": "C1", "status": "closed", "total": 20}},
  {"type": "order", "id": "O3", "attributes": {"customerId": "C2", "status": "open", "total": 30}}
]`

type serviceFixture struct {
	services  *entitymock.Services
	customers *fw24.EntityService
	orders    *fw24.EntityService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	customer, order := serviceSchemas()
	store := entitymock.NewLocalStore(t)
	services := entitymock.NewServices(t, store, customer, order)
	entitymock.NewSeedTestData(store, services.Registry).Seed(t, serviceFixtures)
	return &serviceFixture{
		services:  services,
		customers: services.Service(t, "customer"),
		orders:    services.Service(t, "order"),
	}
}

func TestEntityServiceGet(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	t.Run("default selection hides hidden attributes", func(t *testing.T) {
		out, err := f.customers.Get(ctx, fw24.GetInput{Identifiers: fw24.Record{"id": "C1"}})
		require.NoError(t, err)
		recassert.Record(t, out.Record).
			HasValue("name", "Ada Lovelace").
			LacksAttribute("secret")
		assert.Equal(t, []string{"email", "id", "name", "tier"}, out.Selections.Names())
	})

	t.Run("explicit attributes", func(t *testing.T) {
		out, err := f.customers.Get(ctx, fw24.GetInput{Identifiers: fw24.Record{"id": "C1"}, Attributes: []string{"name"}})
		require.NoError(t, err)
		recassert.Record(t, out.Record).HasExactly("name")
	})

	t.Run("hydrates the related customer with one fetch", func(t *testing.T) {
		out, err := f.orders.Get(ctx, fw24.GetInput{
			Identifiers: fw24.Record{"id": "O1"},
			Attributes:  []string{"id", "total", "customer.name"},
		})
		require.NoError(t, err)
		recassert.Record(t, out.Record).
			HasExactly("customer", "id", "total").
			HasValue("total", 10).
			HasValue("customer.name", "Ada Lovelace")
		expected := `
# HELP fw24_hydration_fetches_total Total number of batch fetches issued while hydrating relations
# TYPE fw24_hydration_fetches_total counter
fw24_hydration_fetches_total{entity="order",related="customer"} 1
`
		assert.NoError(t, testutil.GatherAndCompare(f.services.Gatherer, strings.NewReader(expected), "fw24_hydration_fetches_total"))
	})

	t.Run("missing record", func(t *testing.T) {
		_, err := f.customers.Get(ctx, fw24.GetInput{Identifiers: fw24.Record{"id": "C404"}})
		assert.ErrorIs(t, err, fw24.ErrItemNotFound)
	})

	t.Run("nil identifiers", func(t *testing.T) {
		_, err := f.customers.Get(ctx, fw24.GetInput{})
		assert.ErrorIs(t, err, fw24.ErrInvalidArgument)
	})
}

func TestEntityServiceGetBatch(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	out, err := f.customers.GetBatch(ctx, fw24.GetBatchInput{
		Identifiers: []fw24.Identifiers{{"id": "C2"}, {"id": "C404"}, {"id": "C1"}},
	})
	require.NoError(t, err)
	recassert.Records(t, out.Records).
		HasCount(2).
		ContainsRecord("id", "C1").
		ContainsRecord("id", "C2").
		NoneHaveAttribute("secret")

	empty, err := f.customers.GetBatch(ctx, fw24.GetBatchInput{Identifiers: []fw24.Identifiers{}})
	require.NoError(t, err)
	assert.Empty(t, empty.Records)
}

func TestEntityServiceList(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	t.Run("pages with a cursor", func(t *testing.T) {
		first, err := f.customers.List(ctx, fw24.ListQuery{Limit: 2})
		require.NoError(t, err)
		recassert.Records(t, first.Records).InOrder("id", "C1", "C2")
		require.NotEmpty(t, first.Cursor)
		assert.Equal(t, first.Cursor, first.Query.Cursor)

		second, err := f.customers.List(ctx, fw24.ListQuery{Limit: 2, Cursor: first.Cursor})
		require.NoError(t, err)
		recassert.Records(t, second.Records).InOrder("id", "C3")
		assert.Empty(t, second.Cursor)
	})

	t.Run("descending", func(t *testing.T) {
		out, err := f.customers.List(ctx, fw24.ListQuery{SortDescending: true})
		require.NoError(t, err)
		recassert.Records(t, out.Records).InOrder("id", "C3", "C2", "C1")
	})

	t.Run("search terms must all match", func(t *testing.T) {
		out, err := f.customers.List(ctx, fw24.ListQuery{Search: []string{"Lovelace Ada"}})
		require.NoError(t, err)
		recassert.Records(t, out.Records).InOrder("id", "C1")
		assert.Equal(t, []string{"Lovelace", "Ada"}, out.Query.Search)
		assert.Equal(t, []string{"name", "email", "tier"}, out.Query.SearchAttributes)
		assert.False(t, out.Query.Filters.IsEmpty())
	})

	t.Run("search restricted to attributes", func(t *testing.T) {
		out, err := f.customers.List(ctx, fw24.ListQuery{Search: []string{"example.org"}, SearchAttributes: []string{"name"}})
		require.NoError(t, err)
		recassert.Records(t, out.Records).IsEmpty()
	})

	t.Run("filters with search", func(t *testing.T) {
		out, err := f.customers.List(ctx, fw24.ListQuery{
			Search:  []string{"example"},
			Filters: fw24.FilterGroup{Filters: []fw24.Filter{{Attribute: "email", Operator: fw24.OpContains, Value: ".com"}}},
		})
		require.NoError(t, err)
		recassert.Records(t, out.Records).InOrder("id", "C1", "C3")
	})

	t.Run("listing hydrates relations", func(t *testing.T) {
		out, err := f.orders.List(ctx, fw24.ListQuery{Attributes: []string{"id", "customer.name"}})
		require.NoError(t, err)
		recassert.Records(t, out.Records).
			HasCount(3).
			AllHaveAttributes("customer.name")
		assert.Equal(t, []string{"customer.name", "id"}, out.Query.Attributes)
	})

	t.Run("default listing attributes", func(t *testing.T) {
		want := f.orders.ListingAttributeNames()
		require.NotEmpty(t, want)

		out, err := f.orders.List(ctx, fw24.ListQuery{})
		require.NoError(t, err)
		assert.ElementsMatch(t, want, out.Query.Attributes)
		for _, rec := range out.Records {
			for name := range rec {
				assert.Contains(t, want, name)
			}
		}

		_, order := serviceSchemas()
		store := entitymock.NewMockPersistence(t)
		var projected []string
		store.ListFunc = func(_ context.Context, in fw24.ListEntityInput) (*fw24.ListEntityOutput, error) {
			projected = in.Attributes
			return &fw24.ListEntityOutput{Records: []fw24.Record{{"id": "O1", "status": "open"}}}, nil
		}
		mocked, err := fw24.NewEntityService(order, store).List(ctx, fw24.ListQuery{})
		require.NoError(t, err)
		assert.ElementsMatch(t, want, projected)
		assert.ElementsMatch(t, want, mocked.Query.Attributes)
	})

	t.Run("empty result is not nil", func(t *testing.T) {
		out, err := f.orders.List(ctx, fw24.ListQuery{Search: []string{"nothing-matches"}})
		require.NoError(t, err)
		assert.NotNil(t, out.Records)
		assert.Empty(t, out.Records)
	})
}

func TestEntityServiceQuery(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	t.Run("partition only", func(t *testing.T) {
		out, err := f.orders.Query(ctx, fw24.ListQuery{
			AccessPattern: "byCustomer",
			Identifiers:   fw24.Record{"customerId": "C1"},
		})
		require.NoError(t, err)
		recassert.Records(t, out.Records).InOrder("id", "O2", "O1")
		assert.Equal(t, fw24.Record{"customerId": "C1"}, out.Query.Identifiers)
	})

	t.Run("sort key prefix", func(t *testing.T) {
		out, err := f.orders.Query(ctx, fw24.ListQuery{
			AccessPattern: "byCustomer",
			Identifiers:   fw24.Record{"customerId": "C1", "status": "open"},
		})
		require.NoError(t, err)
		recassert.Records(t, out.Records).InOrder("id", "O1")
	})

	t.Run("defaults to primary", func(t *testing.T) {
		out, err := f.orders.Query(ctx, fw24.ListQuery{Identifiers: fw24.Record{"id": "O3"}})
		require.NoError(t, err)
		recassert.Records(t, out.Records).InOrder("id", "O3")
	})

	t.Run("missing partition attribute", func(t *testing.T) {
		_, err := f.orders.Query(ctx, fw24.ListQuery{
			AccessPattern: "byCustomer",
			Identifiers:   fw24.Record{"status": "open"},
		})
		assert.ErrorIs(t, err, fw24.ErrInvalidArgument)
	})

	t.Run("unknown access pattern", func(t *testing.T) {
		_, err := f.orders.Query(ctx, fw24.ListQuery{AccessPattern: "byNothing", Identifiers: fw24.Record{"id": "O1"}})
		assert.ErrorIs(t, err, fw24.ErrInvalidArgument)
	})
}

func TestEntityServiceCreate(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	t.Run("generates a missing identifier", func(t *testing.T) {
		out, err := f.customers.Create(ctx, fw24.CreateInput{Data: fw24.Record{"name": "Eve"}})
		require.NoError(t, err)
		id, ok := out.Record["id"].(string)
		require.True(t, ok)
		assert.Len(t, id, 36)

		got, err := f.customers.Get(ctx, fw24.GetInput{Identifiers: fw24.Record{"id": id}})
		require.NoError(t, err)
		recassert.Record(t, got.Record).HasValue("name", "Eve")
	})

	t.Run("drops attributes that are not creatable", func(t *testing.T) {
		out, err := f.customers.Create(ctx, fw24.CreateInput{Data: fw24.Record{"id": "C9", "name": "Nine", "tier": "gold", "unknown": 1}})
		require.NoError(t, err)
		recassert.Record(t, out.Record).
			LacksAttribute("tier").
			LacksAttribute("unknown")
	})

	t.Run("existing record", func(t *testing.T) {
		_, err := f.customers.Create(ctx, fw24.CreateInput{Data: fw24.Record{"id": "C1", "name": "Ada"}})
		assert.ErrorIs(t, err, fw24.ErrItemExists)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := f.customers.Create(ctx, fw24.CreateInput{Data: fw24.Record{"id": "C10"}})
		assert.ErrorIs(t, err, fw24.ErrValidation)
	})

	t.Run("nil payload", func(t *testing.T) {
		_, err := f.customers.Create(ctx, fw24.CreateInput{})
		assert.ErrorIs(t, err, fw24.ErrInvalidArgument)
	})
}

func TestEntityServiceUpdate(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	t.Run("primary key attributes are ignored", func(t *testing.T) {
		out, err := f.orders.Update(ctx, fw24.UpdateInput{
			Identifiers: fw24.Record{"id": "O1"},
			Data:        fw24.Record{"id": "O99", "status": "shipped", "total": 11},
		})
		require.NoError(t, err)
		recassert.Record(t, out.Record).
			HasValue("id", "O1").
			HasValue("status", "shipped").
			HasValue("total", 11).
			HasValue("customerId", "C1")

		_, err = f.orders.Get(ctx, fw24.GetInput{Identifiers: fw24.Record{"id": "O99"}})
		assert.ErrorIs(t, err, fw24.ErrItemNotFound)
	})

	t.Run("nothing editable", func(t *testing.T) {
		_, err := f.customers.Update(ctx, fw24.UpdateInput{
			Identifiers: fw24.Record{"id": "C1"},
			Data:        fw24.Record{"id": "C1", "secret": "x"},
		})
		assert.ErrorIs(t, err, fw24.ErrInvalidArgument)
	})

	t.Run("missing record", func(t *testing.T) {
		_, err := f.customers.Update(ctx, fw24.UpdateInput{
			Identifiers: fw24.Record{"id": "C404"},
			Data:        fw24.Record{"name": "Nobody"},
		})
		assert.ErrorIs(t, err, fw24.ErrItemNotFound)
	})

	t.Run("type mismatch", func(t *testing.T) {
		_, err := f.orders.Update(ctx, fw24.UpdateInput{
			Identifiers: fw24.Record{"id": "O2"},
			Data:        fw24.Record{"total": "twenty"},
		})
		assert.ErrorIs(t, err, fw24.ErrValidation)
	})
}

func TestEntityServiceDelete(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	out, err := f.customers.Delete(ctx, fw24.DeleteInput{Identifiers: fw24.Record{"id": "C1"}})
	require.NoError(t, err)
	recassert.Record(t, out.Record).
		HasValue("name", "Ada Lovelace").
		LacksAttribute("secret")

	_, err = f.customers.Delete(ctx, fw24.DeleteInput{Identifiers: fw24.Record{"id": "C1"}})
	assert.ErrorIs(t, err, fw24.ErrItemNotFound)

	batch, err := f.customers.DeleteBatch(ctx, fw24.DeleteBatchInput{
		Identifiers: []fw24.Record{{"id": "C2"}, {"id": "C404"}, {"id": "C3"}},
	})
	require.NoError(t, err)
	recassert.Records(t, batch.Records).HasCount(2)

	list, err := f.customers.List(ctx, fw24.ListQuery{})
	require.NoError(t, err)
	recassert.Records(t, list.Records).IsEmpty()
}

func TestEntityServiceMetrics(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, _ = f.customers.Get(ctx, fw24.GetInput{Identifiers: fw24.Record{"id": "C1"}})
	_, _ = f.customers.Get(ctx, fw24.GetInput{Identifiers: fw24.Record{"id": "C404"}})

	expected := `
# HELP fw24_entity_operation_errors_total Total number of failed entity operations
# TYPE fw24_entity_operation_errors_total counter
fw24_entity_operation_errors_total{entity="customer",operation="get"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.services.Gatherer, strings.NewReader(expected), "fw24_entity_operation_errors_total"))

	count, err := testutil.GatherAndCount(f.services.Gatherer, "fw24_entity_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEntityServiceStoreErrors(t *testing.T) {
	customer, _ := serviceSchemas()
	store := entitymock.NewMockPersistence(t)
	boom := errors.New("store unavailable")
	store.GetFunc = func(context.Context, fw24.GetEntityInput) ([]fw24.Record, error) { return nil, boom }
	store.ListFunc = func(context.Context, fw24.ListEntityInput) (*fw24.ListEntityOutput, error) { return nil, boom }
	svc := fw24.NewEntityService(customer, store)
	ctx := context.Background()

	_, err := svc.Get(ctx, fw24.GetInput{Identifiers: fw24.Record{"id": "C1"}})
	assert.ErrorIs(t, err, boom)
	_, err = svc.List(ctx, fw24.ListQuery{})
	assert.ErrorIs(t, err, boom)

	_, err = svc.GetBatch(ctx, fw24.GetBatchInput{Identifiers: []fw24.Identifiers{}})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Calls("get"))
	assert.Equal(t, 1, store.Calls("list"))
}

func TestEntityServiceAttributeNames(t *testing.T) {
	customer, order := serviceSchemas()
	customers := fw24.NewEntityService(customer, nil)
	orders := fw24.NewEntityService(order, nil)

	assert.Equal(t, []string{"id", "name", "email", "tier"}, customers.SerializationAttributeNames())
	assert.Equal(t, []string{"id", "name", "email", "tier"}, customers.ListingAttributeNames())
	assert.Equal(t, []string{"name", "email", "tier"}, customers.SearchableAttributeNames())
	assert.Equal(t, []string{"id", "customerId", "status", "total"}, orders.FilterableAttributeNames())
	assert.Same(t, customer, customers.Schema())

	ids, err := orders.ExtractEntityIdentifiers([]any{map[string]any{"id": "O1", "status": "open"}})
	require.NoError(t, err)
	assert.Equal(t, []fw24.Identifiers{{"id": "O1", "status": "open"}}, ids)
}

func TestNumericIdentifierHydration(t *testing.T) {
	account, invoice := numericSchemas()
	store := entitymock.NewLocalStore(t)
	services := entitymock.NewServices(t, store, account, invoice)
	accounts, invoices := services.Service(t, "account"), services.Service(t, "invoice")
	ctx := context.Background()

	_, err := accounts.Create(ctx, fw24.CreateInput{Data: fw24.Record{"id": 1500000, "name": "Acme"}})
	require.NoError(t, err)
	_, err = accounts.Create(ctx, fw24.CreateInput{Data: fw24.Record{"id": float64(2500000), "name": "Globex"}})
	require.NoError(t, err)
	for id, accountID := range map[string]any{"I1": float64(1500000), "I2": 1500000, "I3": int64(2500000)} {
		_, err := invoices.Create(ctx, fw24.CreateInput{Data: fw24.Record{"id": id, "accountId": accountID}})
		require.NoError(t, err)
	}

	t.Run("get across number types", func(t *testing.T) {
		for _, id := range []any{1500000, float64(1500000)} {
			out, err := accounts.Get(ctx, fw24.GetInput{Identifiers: fw24.Record{"id": id}})
			require.NoError(t, err, "id %T", id)
			assert.Equal(t, "Acme", out.Record["name"])
		}
	})

	t.Run("query across number types", func(t *testing.T) {
		for _, id := range []any{1500000, float64(1500000)} {
			out, err := invoices.Query(ctx, fw24.ListQuery{AccessPattern: "byAccount", Identifiers: fw24.Record{"accountId": id}})
			require.NoError(t, err)
			recassert.Records(t, out.Records).HasCount(2).ContainsRecord("id", "I1").ContainsRecord("id", "I2")
		}
	})

	t.Run("list hydrates", func(t *testing.T) {
		out, err := invoices.List(ctx, fw24.ListQuery{Attributes: []string{"id", "account.name"}})
		require.NoError(t, err)
		recassert.Records(t, out.Records).HasCount(3).AllHaveAttributes("account.name")
		for _, rec := range out.Records {
			want := "Acme"
			if rec["id"] == "I3" {
				want = "Globex"
			}
			recassert.Record(t, rec).HasValue("account.name", want)
		}
	})
}
