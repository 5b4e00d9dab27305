package fw24

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ServiceOptions configures an EntityService.
type ServiceOptions struct {
	Registry    *Registry
	Logger      *zap.Logger
	Metrics     *Metrics
	IDGenerator func() string
}

// WithRegistry sets the registry used to resolve related entities.
func WithRegistry(r *Registry) func(*ServiceOptions) {
	return func(o *ServiceOptions) {
		o.Registry = r
	}
}

// WithLogger sets the logger. Entries carry the entity name.
func WithLogger(l *zap.Logger) func(*ServiceOptions) {
	return func(o *ServiceOptions) {
		o.Logger = l
	}
}

// WithMetrics records operation and hydration metrics on m.
func WithMetrics(m *Metrics) func(*ServiceOptions) {
	return func(o *ServiceOptions) {
		o.Metrics = m
	}
}

// WithIDGenerator overrides the generator used for missing string
// identifiers on create. The default is a random UUID.
func WithIDGenerator(fn func() string) func(*ServiceOptions) {
	return func(o *ServiceOptions) {
		o.IDGenerator = fn
	}
}

// EntityService exposes CRUD, listing and querying for one entity schema on
// top of a Persistence implementation.
type EntityService struct {
	schema   *Schema
	store    Persistence
	registry *Registry
	logger   *zap.Logger
	metrics  *Metrics
	newID    func() string
	hydrator *Hydrator

	opsOnce sync.Once
	ops     OpsSchema
}

// NewEntityService creates a service for schema backed by store.
func NewEntityService(schema *Schema, store Persistence, opts ...func(*ServiceOptions)) *EntityService {
	o := ServiceOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.IDGenerator == nil {
		o.IDGenerator = uuid.NewString
	}
	logger := o.Logger.With(zap.String("entity", schema.Entity))
	return &EntityService{
		schema:   schema,
		store:    store,
		registry: o.Registry,
		logger:   logger,
		metrics:  o.Metrics,
		newID:    o.IDGenerator,
		hydrator: NewHydrator(o.Registry, logger, o.Metrics),
	}
}

// Schema returns the compiled schema the service serves.
func (s *EntityService) Schema() *Schema { return s.schema }

// OpsSchema returns the per-operation attribute projections, built on first
// use.
func (s *EntityService) OpsSchema() OpsSchema {
	s.opsOnce.Do(func() {
		s.ops = BuildOpsSchema(s.schema)
	})
	return s.ops
}

// SerializationAttributeNames is the default selection for single records.
func (s *EntityService) SerializationAttributeNames() []string {
	return s.OpsSchema().Get.Output.Names()
}

// ListingAttributeNames is the default selection for list and query.
func (s *EntityService) ListingAttributeNames() []string {
	return s.OpsSchema().List.Output.Names()
}

// SearchableAttributeNames lists the non-identifier string attributes that
// free-text search applies to by default.
func (s *EntityService) SearchableAttributeNames() []string {
	var names []string
	for _, attr := range s.schema.attributes {
		if attr.Hidden || attr.IsIdentifier || attr.Name == s.schema.Identifier() {
			continue
		}
		if attr.Type == TypeString && attr.IsSearchable {
			names = append(names, attr.Name)
		}
	}
	return names
}

// FilterableAttributeNames lists the string and number attributes that
// accept filters by default.
func (s *EntityService) FilterableAttributeNames() []string {
	var names []string
	for _, attr := range s.schema.attributes {
		if attr.Hidden || !attr.IsFilterable {
			continue
		}
		if attr.Type == TypeString || attr.Type == TypeNumber {
			names = append(names, attr.Name)
		}
	}
	return names
}

// ExtractEntityIdentifiers mirrors the shape of input: an object yields
// Identifiers, an array yields []Identifiers.
func (s *EntityService) ExtractEntityIdentifiers(input any, opts ...func(*ExtractOptions)) (any, error) {
	opts = append([]func(*ExtractOptions){WithExtractLogger(s.logger)}, opts...)
	return ExtractEntityIdentifiers(s.schema, input, opts...)
}

// GetInput addresses one record by its primary identifiers.
type GetInput struct {
	Identifiers Record
	// Attributes are dot paths; Selections is merged on top. Both empty
	// selects the default serialization attributes.
	Attributes []string
	Selections Selections
}

// GetOutput holds the hydrated record and the selection applied to it.
type GetOutput struct {
	Record     Record
	Selections Selections
}

// Get returns the record addressed by the primary access pattern, or
// ErrItemNotFound.
func (s *EntityService) Get(ctx context.Context, in GetInput) (out *GetOutput, err error) {
	defer s.observe("get", time.Now(), &err)

	ids, err := ExtractIdentifiers(s.schema, in.Identifiers, ForAccessPattern(PrimaryAccessPattern), WithExtractLogger(s.logger))
	if err != nil {
		return nil, err
	}
	sel := s.selections(in.Attributes, in.Selections, s.SerializationAttributeNames())

	records, err := s.store.GetEntity(ctx, GetEntityInput{
		Schema:      s.schema,
		Identifiers: []Identifiers{ids},
		Attributes:  storeProjection(sel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", s.schema.Entity, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s %v: %w", s.schema.Entity, ids, ErrItemNotFound)
	}

	result, err := s.finish(ctx, records[:1], sel, true)
	if err != nil {
		return nil, err
	}
	return &GetOutput{Record: result[0], Selections: sel}, nil
}

// GetBatchInput addresses several records at once.
type GetBatchInput struct {
	Identifiers []Identifiers
	Attributes  []string
	Selections  Selections
	// SkipHydration returns stored relation values as they are.
	SkipHydration bool
}

// GetBatchOutput holds the records found.
type GetBatchOutput struct {
	// Records are matched by identifier, not by input position. Missing
	// records are omitted.
	Records    []Record
	Selections Selections
}

// GetBatch returns the records addressed by every identifier set with a
// single store call.
func (s *EntityService) GetBatch(ctx context.Context, in GetBatchInput) (out *GetBatchOutput, err error) {
	defer s.observe("get_batch", time.Now(), &err)

	inputs := make([]Record, len(in.Identifiers))
	for i, ids := range in.Identifiers {
		inputs[i] = ids
	}
	batch, err := ExtractIdentifiersBatch(s.schema, inputs, ForAccessPattern(PrimaryAccessPattern), WithExtractLogger(s.logger))
	if err != nil {
		return nil, err
	}
	sel := s.selections(in.Attributes, in.Selections, s.SerializationAttributeNames())
	if len(batch) == 0 {
		return &GetBatchOutput{Selections: sel}, nil
	}

	records, err := s.store.GetEntity(ctx, GetEntityInput{
		Schema:      s.schema,
		Identifiers: batch,
		Attributes:  storeProjection(sel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s batch: %w", s.schema.Entity, err)
	}

	result, err := s.finish(ctx, records, sel, !in.SkipHydration)
	if err != nil {
		return nil, err
	}
	return &GetBatchOutput{Records: result, Selections: sel}, nil
}

// ListQuery is the request and the normalized echo of list and query.
type ListQuery struct {
	Attributes       []string
	Selections       Selections
	Search           []string
	SearchAttributes []string
	Filters          FilterGroup
	// AccessPattern and Identifiers are used by Query only.
	AccessPattern  string
	Identifiers    Record
	Limit          int
	Cursor         string
	SortDescending bool
}

// ListOutput is one page of records plus the normalized query that
// produced it.
type ListOutput struct {
	Records []Record
	// Query is the normalized query: resolved selections and the merged
	// search and explicit filters.
	Query  ListQuery
	Cursor string
}

// List returns records of the entity matching the query filters and search.
func (s *EntityService) List(ctx context.Context, q ListQuery) (out *ListOutput, err error) {
	defer s.observe("list", time.Now(), &err)

	norm, sel := s.normalizeQuery(q)
	res, err := s.store.ListEntity(ctx, ListEntityInput{
		Schema:         s.schema,
		Attributes:     storeProjection(sel),
		Filters:        norm.Filters,
		Limit:          norm.Limit,
		Cursor:         norm.Cursor,
		SortDescending: norm.SortDescending,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.schema.EntityNamePlural, err)
	}
	return s.listOutput(ctx, res, norm, sel)
}

// Query is List restricted to an access pattern. The identifiers must carry
// the pattern's partition key attributes. The pattern defaults to primary.
func (s *EntityService) Query(ctx context.Context, q ListQuery) (out *ListOutput, err error) {
	defer s.observe("query", time.Now(), &err)

	if q.AccessPattern == "" {
		q.AccessPattern = PrimaryAccessPattern
	}
	pattern, ok := s.schema.AccessPattern(q.AccessPattern)
	if !ok {
		return nil, fmt.Errorf("%w: entity %s has no access pattern %q", ErrInvalidArgument, s.schema.Entity, q.AccessPattern)
	}
	ids, err := ExtractIdentifiers(s.schema, q.Identifiers, ForAccessPattern(pattern.Name), WithExtractLogger(s.logger))
	if err != nil {
		return nil, err
	}
	for _, attr := range pattern.PartitionKey() {
		if _, ok := ids[attr.Name]; !ok {
			return nil, fmt.Errorf("%w: query on %s.%s requires %q", ErrInvalidArgument, s.schema.Entity, pattern.Name, attr.Name)
		}
	}

	norm, sel := s.normalizeQuery(q)
	norm.Identifiers = ids
	res, err := s.store.QueryEntity(ctx, ListEntityInput{
		Schema:         s.schema,
		AccessPattern:  pattern.Name,
		Identifiers:    ids,
		Attributes:     storeProjection(sel),
		Filters:        norm.Filters,
		Limit:          norm.Limit,
		Cursor:         norm.Cursor,
		SortDescending: norm.SortDescending,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.schema.EntityNamePlural, err)
	}
	return s.listOutput(ctx, res, norm, sel)
}

func (s *EntityService) normalizeQuery(q ListQuery) (ListQuery, Selections) {
	sel := s.selections(q.Attributes, q.Selections, s.ListingAttributeNames())
	q.Selections = sel
	q.Attributes = sel.Paths()

	if terms := SplitSearchTerms(q.Search...); len(terms) > 0 {
		attrs := ParseSearchAttributes(q.SearchAttributes...)
		if len(attrs) == 0 {
			attrs = s.SearchableAttributeNames()
		}
		q.Search = terms
		q.SearchAttributes = attrs
		q.Filters = MergeFilterGroups(q.Filters, BuildSearchFilterGroup(terms, attrs))
	}
	return q, sel
}

func (s *EntityService) listOutput(ctx context.Context, res *ListEntityOutput, q ListQuery, sel Selections) (*ListOutput, error) {
	records, err := s.finish(ctx, res.Records, sel, true)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []Record{}
	}
	q.Cursor = res.Cursor
	return &ListOutput{Records: records, Query: q, Cursor: res.Cursor}, nil
}

// CreateInput carries the new record.
type CreateInput struct {
	Data       Record
	Attributes []string
	Selections Selections
}

type CreateOutput struct {
	Record Record
}

// Create stores the creatable attributes of the payload. A missing string
// identifier is generated.
func (s *EntityService) Create(ctx context.Context, in CreateInput) (out *CreateOutput, err error) {
	defer s.observe("create", time.Now(), &err)

	if in.Data == nil {
		return nil, fmt.Errorf("%w: create payload is required", ErrInvalidArgument)
	}
	data := project(in.Data, s.OpsSchema().Create.Input.Names())

	idName := s.schema.Identifier()
	if v, ok := data[idName]; !ok || v == nil || v == "" {
		if attr, ok := s.schema.Attribute(idName); ok && attr.Type == TypeString {
			data[idName] = s.newID()
		}
	}

	rec, err := s.store.CreateEntity(ctx, CreateEntityInput{Schema: s.schema, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", s.schema.Entity, err)
	}
	sel := s.selections(in.Attributes, in.Selections, s.SerializationAttributeNames())
	result, err := s.finish(ctx, []Record{rec}, sel, true)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("created record", zap.Any("identifier", data[idName]))
	return &CreateOutput{Record: result[0]}, nil
}

// UpdateInput carries a partial record for the addressed record.
type UpdateInput struct {
	Identifiers Record
	Data        Record
	Attributes  []string
	Selections  Selections
}

type UpdateOutput struct {
	Record Record
}

// Update applies the editable attributes of Data to an existing record.
// Primary key attributes cannot be changed.
func (s *EntityService) Update(ctx context.Context, in UpdateInput) (out *UpdateOutput, err error) {
	defer s.observe("update", time.Now(), &err)

	ids, err := ExtractIdentifiers(s.schema, in.Identifiers, ForAccessPattern(PrimaryAccessPattern), WithExtractLogger(s.logger))
	if err != nil {
		return nil, err
	}
	data := project(in.Data, s.OpsSchema().Update.Input.Names())
	primary, _ := s.schema.AccessPattern(PrimaryAccessPattern)
	for _, name := range primary.Names() {
		delete(data, name)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: update of %s carries no editable attributes", ErrInvalidArgument, s.schema.Entity)
	}

	rec, err := s.store.UpdateEntity(ctx, UpdateEntityInput{Schema: s.schema, Identifiers: ids, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", s.schema.Entity, err)
	}
	sel := s.selections(in.Attributes, in.Selections, s.SerializationAttributeNames())
	result, err := s.finish(ctx, []Record{rec}, sel, true)
	if err != nil {
		return nil, err
	}
	return &UpdateOutput{Record: result[0]}, nil
}

// DeleteInput addresses the record to delete.
type DeleteInput struct {
	Identifiers Record
}

type DeleteOutput struct {
	Record Record
}

// Delete removes one record and returns it, or ErrItemNotFound.
func (s *EntityService) Delete(ctx context.Context, in DeleteInput) (out *DeleteOutput, err error) {
	defer s.observe("delete", time.Now(), &err)

	ids, err := ExtractIdentifiers(s.schema, in.Identifiers, ForAccessPattern(PrimaryAccessPattern), WithExtractLogger(s.logger))
	if err != nil {
		return nil, err
	}
	records, err := s.store.DeleteEntity(ctx, DeleteEntityInput{Schema: s.schema, Identifiers: []Identifiers{ids}})
	if err != nil {
		return nil, fmt.Errorf("failed to delete %s: %w", s.schema.Entity, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s %v: %w", s.schema.Entity, ids, ErrItemNotFound)
	}
	return &DeleteOutput{Record: project(records[0], s.SerializationAttributeNames())}, nil
}

// DeleteBatchInput addresses several records to delete.
type DeleteBatchInput struct {
	Identifiers []Record
}

type DeleteBatchOutput struct {
	Records []Record
}

// DeleteBatch removes every addressed record and returns the ones that
// existed.
func (s *EntityService) DeleteBatch(ctx context.Context, in DeleteBatchInput) (out *DeleteBatchOutput, err error) {
	defer s.observe("delete_batch", time.Now(), &err)

	batch, err := ExtractIdentifiersBatch(s.schema, in.Identifiers, ForAccessPattern(PrimaryAccessPattern), WithExtractLogger(s.logger))
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return &DeleteBatchOutput{Records: []Record{}}, nil
	}
	records, err := s.store.DeleteEntity(ctx, DeleteEntityInput{Schema: s.schema, Identifiers: batch})
	if err != nil {
		return nil, fmt.Errorf("failed to delete %s batch: %w", s.schema.Entity, err)
	}
	names := s.SerializationAttributeNames()
	out = &DeleteBatchOutput{Records: make([]Record, len(records))}
	for i, rec := range records {
		out.Records[i] = project(rec, names)
	}
	return out, nil
}

// selections merges dot paths with an explicit tree and resolves relations.
// With neither given, the defaults are used as plain attributes so that
// relations are only hydrated on request.
func (s *EntityService) selections(paths []string, explicit Selections, defaults []string) Selections {
	sel := ParseAttributePaths(paths).Merge(explicit)
	if len(sel) == 0 {
		return ParseAttributePaths(defaults)
	}
	opts := []func(*InferOptions){WithInferLogger(s.logger)}
	if s.registry != nil {
		opts = append(opts, WithSchemas(s.registry))
	}
	return InferRelationships(s.schema, sel, opts...)
}

// finish hydrates copies of the stored records and trims them to the
// selection's top-level attributes.
func (s *EntityService) finish(ctx context.Context, records []Record, sel Selections, hydrate bool) ([]Record, error) {
	if len(records) == 0 {
		return nil, nil
	}
	out := make([]Record, len(records))
	for i, rec := range records {
		out[i] = project(rec, nil)
	}
	if hydrate {
		if err := s.hydrator.Hydrate(ctx, s.schema, out, sel); err != nil {
			return nil, err
		}
	}
	names := sel.Names()
	for i, rec := range out {
		out[i] = project(rec, names)
	}
	return out, nil
}

func (s *EntityService) observe(op string, start time.Time, err *error) {
	s.metrics.observe(s.schema.Entity, op, start, *err)
	if *err != nil {
		s.logger.Debug("operation failed", zap.String("operation", op), zap.Error(*err))
	}
}

// storeProjection is the attribute list sent to persistence: the selected
// top-level attributes plus the root attributes relation sources read from.
func storeProjection(sel Selections) []string {
	names := sel.Names()
	for _, name := range sel.Names() {
		node := sel[name]
		if node == nil || node.Relation == nil {
			continue
		}
		for _, m := range node.Relation.Identifiers {
			root, _, _ := strings.Cut(m.Source, ".")
			names = mergeNames(names, []string{root})
		}
	}
	return names
}
