package fw24

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// DynamoStoreOptions configures a DynamoStore.
type DynamoStoreOptions struct {
	Logger *zap.Logger
	// MaxRetries bounds the re-requests of unprocessed batch keys.
	MaxRetries int
	// RetryDelay is the initial wait before re-requesting unprocessed keys.
	// It doubles on every attempt.
	RetryDelay time.Duration
	Paginator  Paginator
}

// WithStoreLogger sets the logger used for retry diagnostics.
func WithStoreLogger(l *zap.Logger) func(*DynamoStoreOptions) {
	return func(o *DynamoStoreOptions) {
		o.Logger = l
	}
}

// WithPaginator replaces the table-backed cursor store.
func WithPaginator(p Paginator) func(*DynamoStoreOptions) {
	return func(o *DynamoStoreOptions) {
		o.Paginator = p
	}
}

// DynamoStore implements Persistence over a single DynamoDB table.
type DynamoStore struct {
	table     *Table
	client    DynamoDBClient
	paginator Paginator
	logger    *zap.Logger
	retries   int
	delay     time.Duration
}

// NewDynamoStore creates a store over table using client. Unprocessed batch
// keys are retried three times by default.
func NewDynamoStore(client DynamoDBClient, table *Table, opts ...func(*DynamoStoreOptions)) *DynamoStore {
	o := DynamoStoreOptions{MaxRetries: 3, RetryDelay: 50 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Paginator == nil {
		o.Paginator = table.Paginator(client)
	}
	return &DynamoStore{
		table:     table,
		client:    client,
		paginator: o.Paginator,
		logger:    o.Logger,
		retries:   o.MaxRetries,
		delay:     o.RetryDelay,
	}
}

// GetEntity implements Persistence.
func (s *DynamoStore) GetEntity(ctx context.Context, in GetEntityInput) ([]Record, error) {
	if len(in.Identifiers) == 1 {
		input, err := s.table.MarshalGet(in.Schema, in.Identifiers[0], in.Attributes)
		if err != nil {
			return nil, err
		}
		result, err := s.client.GetItem(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to get item: %w", err)
		}
		if result.Item == nil {
			return nil, nil
		}
		rec, err := UnmarshalRecord(result.Item)
		if err != nil {
			return nil, err
		}
		return []Record{rec}, nil
	}

	batches, err := s.table.MarshalBatchGet(in.Schema, in.Identifiers, in.Attributes)
	if err != nil {
		return nil, err
	}
	var records []Record
	for _, batch := range batches {
		items, err := s.batchGet(ctx, batch)
		if err != nil {
			return nil, err
		}
		recs, err := UnmarshalRecords(items)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	return records, nil
}

// batchGet issues one batch get and re-requests unprocessed keys with
// exponential backoff.
func (s *DynamoStore) batchGet(ctx context.Context, input *dynamodb.BatchGetItemInput) ([]Item, error) {
	var items []Item
	delay := s.delay
	for attempt := 0; ; attempt++ {
		result, err := s.client.BatchGetItem(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to batch get items: %w", err)
		}
		items = append(items, result.Responses[s.table.TableName]...)

		pending, ok := result.UnprocessedKeys[s.table.TableName]
		if !ok || len(pending.Keys) == 0 {
			return items, nil
		}
		if attempt >= s.retries {
			return nil, fmt.Errorf("failed to batch get items: %d keys unprocessed after %d retries", len(pending.Keys), s.retries)
		}
		s.logger.Debug("retrying unprocessed keys", zap.Int("keys", len(pending.Keys)), zap.Int("attempt", attempt+1))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		input = &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{s.table.TableName: pending},
		}
	}
}

// CreateEntity implements Persistence. It fails with ErrItemExists if the
// key is taken.
func (s *DynamoStore) CreateEntity(ctx context.Context, in CreateEntityInput) (Record, error) {
	if err := in.Schema.ValidationRules().Validate(OperationCreate, in.Data); err != nil {
		return nil, err
	}
	input, err := s.table.MarshalPut(in.Schema, in.Data)
	if err != nil {
		return nil, err
	}
	if _, err := s.client.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, fmt.Errorf("%s: %w", in.Schema.Entity, ErrItemExists)
		}
		return nil, fmt.Errorf("failed to put item: %w", err)
	}
	return project(in.Data, nil), nil
}

// UpdateEntity implements Persistence. It fails with ErrItemNotFound if the
// record does not exist. An update touching a secondary key attribute reads
// the stored record first so the pattern keys can be recomputed.
func (s *DynamoStore) UpdateEntity(ctx context.Context, in UpdateEntityInput) (Record, error) {
	if err := in.Schema.ValidationRules().Validate(OperationUpdate, in.Data); err != nil {
		return nil, err
	}
	var current Record
	if len(RekeyedPatterns(in.Schema, in.Data)) > 0 {
		get, err := s.table.MarshalGet(in.Schema, in.Identifiers, nil)
		if err != nil {
			return nil, err
		}
		get.ConsistentRead = aws.Bool(true)
		result, err := s.client.GetItem(ctx, get)
		if err != nil {
			return nil, fmt.Errorf("failed to get item: %w", err)
		}
		if result.Item == nil {
			return nil, fmt.Errorf("%s: %w", in.Schema.Entity, ErrItemNotFound)
		}
		if current, err = UnmarshalRecord(result.Item); err != nil {
			return nil, err
		}
	}
	input, err := s.table.MarshalRekeyedUpdate(in.Schema, in.Identifiers, in.Data, current)
	if err != nil {
		return nil, err
	}
	result, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, fmt.Errorf("%s: %w", in.Schema.Entity, ErrItemNotFound)
		}
		return nil, fmt.Errorf("failed to update item: %w", err)
	}
	if result.Attributes == nil {
		return project(in.Data, nil), nil
	}
	return UnmarshalRecord(result.Attributes)
}

// DeleteEntity implements Persistence. A single key is deleted with one
// request returning the old item; several keys are read in a batch, then
// deleted with batch writes.
func (s *DynamoStore) DeleteEntity(ctx context.Context, in DeleteEntityInput) ([]Record, error) {
	if len(in.Identifiers) == 1 {
		input, err := s.table.MarshalDelete(in.Schema, in.Identifiers[0])
		if err != nil {
			return nil, err
		}
		result, err := s.client.DeleteItem(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to delete item: %w", err)
		}
		if result.Attributes == nil {
			return nil, nil
		}
		rec, err := UnmarshalRecord(result.Attributes)
		if err != nil {
			return nil, err
		}
		return []Record{rec}, nil
	}

	existing, err := s.GetEntity(ctx, GetEntityInput{Schema: in.Schema, Identifiers: in.Identifiers})
	if err != nil {
		return nil, err
	}
	batches, err := s.table.MarshalBatchDelete(in.Schema, in.Identifiers)
	if err != nil {
		return nil, err
	}
	for _, batch := range batches {
		if err := s.batchWrite(ctx, batch); err != nil {
			return nil, err
		}
	}
	return existing, nil
}

// batchWrite issues one batch write and resends unprocessed requests with
// exponential backoff.
func (s *DynamoStore) batchWrite(ctx context.Context, input *dynamodb.BatchWriteItemInput) error {
	delay := s.delay
	for attempt := 0; ; attempt++ {
		result, err := s.client.BatchWriteItem(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to batch delete items: %w", err)
		}

		pending := result.UnprocessedItems[s.table.TableName]
		if len(pending) == 0 {
			return nil
		}
		if attempt >= s.retries {
			return fmt.Errorf("failed to batch delete items: %d requests unprocessed after %d retries", len(pending), s.retries)
		}
		s.logger.Debug("retrying unprocessed writes", zap.Int("requests", len(pending)), zap.Int("attempt", attempt+1))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		input = &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.table.TableName: pending},
		}
	}
}

// ListEntity implements Persistence by querying the list index.
func (s *DynamoStore) ListEntity(ctx context.Context, in ListEntityInput) (*ListEntityOutput, error) {
	filter, err := in.Filters.Condition(AttributeNameData + ".")
	if err != nil {
		return nil, err
	}
	startKey, err := s.paginator.StartKey(ctx, in.Cursor)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, &QueryList{
		Label:           in.Schema.Entity,
		ConditionFilter: filter,
		Attributes:      in.Attributes,
		Limit:           in.Limit,
		StartKey:        startKey,
		SortDescending:  in.SortDescending,
	})
}

// QueryEntity implements Persistence by querying the access pattern's index.
func (s *DynamoStore) QueryEntity(ctx context.Context, in ListEntityInput) (*ListEntityOutput, error) {
	name := in.AccessPattern
	if name == "" {
		name = PrimaryAccessPattern
	}
	pattern, ok := in.Schema.AccessPattern(name)
	if !ok {
		return nil, fmt.Errorf("%w: entity %s has no access pattern %q", ErrInvalidArgument, in.Schema.Entity, name)
	}
	filter, err := in.Filters.Condition(AttributeNameData + ".")
	if err != nil {
		return nil, err
	}
	startKey, err := s.paginator.StartKey(ctx, in.Cursor)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, &QueryPattern{
		Schema:          in.Schema,
		Pattern:         pattern,
		Identifiers:     in.Identifiers,
		ConditionFilter: filter,
		Attributes:      in.Attributes,
		Limit:           in.Limit,
		StartKey:        startKey,
		SortDescending:  in.SortDescending,
	})
}

func (s *DynamoStore) query(ctx context.Context, q QueryMarshaler) (*ListEntityOutput, error) {
	input, err := s.table.MarshalQuery(q)
	if err != nil {
		return nil, err
	}
	result, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	records, err := UnmarshalRecords(result.Items)
	if err != nil {
		return nil, err
	}
	cursor, err := s.paginator.PageCursor(ctx, result.LastEvaluatedKey)
	if err != nil {
		return nil, err
	}
	return &ListEntityOutput{Records: records, Cursor: cursor}, nil
}
