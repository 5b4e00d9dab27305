// Package fw24 provides schema-driven entity services over a pluggable
// persistence layer, with a single-table DynamoDB implementation.
//
// # Key Concepts
//
// An entity is described by a [Definition], usually loaded from YAML, and
// compiled into a [Schema]. The schema resolves attribute flags, the entity
// identifier and one [AccessPattern] per declared index. The first index
// doubles as the "primary" pattern that addresses a single record.
//
// An [EntityService] exposes get, list, query, create, update and delete
// for one schema on top of a [Persistence]. Attributes that declare a
// relation to another entity are hydrated on request: ask for
// "customer.name" and the service fetches the related customers through the
// [Registry] with one batch call per relation.
//
// The DynamoDB layout stores every entity in one table:
//   - hk (hash key): entity#<partition key values>
//   - sk (sort key): entity#<sort key values>
//   - label: the entity name, hash key of the list index
//   - gsi1_sk: sort key of the list index
//   - data: the record itself
//
// Secondary access patterns add <pattern>_hk and <pattern>_sk attributes
// served by their own index.
//
// # Basic Usage
//
//	schemas, err := fw24.LoadSchemas("schemas/*.yaml")
//	if err != nil {
//	    return err
//	}
//
//	store := fw24.NewDynamoStore(client, fw24.NewTable("my-table"))
//	registry := fw24.NewRegistry()
//	for _, schema := range schemas {
//	    registry.MustRegister(fw24.NewEntityService(schema, store, fw24.WithRegistry(registry)))
//	}
//
//	svc, _ := registry.Service("order")
//	out, err := svc.(*fw24.EntityService).Get(ctx, fw24.GetInput{
//	    Identifiers: fw24.Record{"id": "o1"},
//	    Attributes:  []string{"id", "total", "customer.name"},
//	})
//
// # Listing and Search
//
// List and Query accept filters as a [FilterGroup] tree and free-text
// search terms. Search terms are split on spaces, commas, '&' and '+'; each
// term must match at least one searchable attribute.
//
//	out, err := svc.List(ctx, fw24.ListQuery{
//	    Search: []string{"ada lovelace"},
//	    Limit:  20,
//	})
//	next, err := svc.List(ctx, fw24.ListQuery{Cursor: out.Cursor})
//
// Cursors are opaque. The DynamoDB store keeps the last evaluated key in
// the table under a random cursor that expires after [Table.PaginationTTL].
package fw24
