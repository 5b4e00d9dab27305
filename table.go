package fw24

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	// MaxBatchSize is the maximum number of items allowed in a DynamoDB batch write.
	MaxBatchSize = 25
	// MaxBatchGetSize is the maximum number of keys allowed in a DynamoDB batch get.
	MaxBatchGetSize = 100
)

// Table contains DynamoDB table configuration.
type Table struct {
	TableName     string        // Main table name
	ListIndexName string        // List index name (label hash key, gsi1_sk range key)
	KeyDelimiter  string        // Delimiter for hash and sort keys. Default is '#'.
	PaginationTTL time.Duration // TTL for pagination cursors stored in table
	Tick          Clock         // Function to get current time for timestamps
}

// NewTable creates a new Table with default configuration.
func NewTable(tableName string) *Table {
	return &Table{
		TableName:     tableName,
		ListIndexName: "list-index",
		KeyDelimiter:  "#",
		PaginationTTL: 24 * time.Hour,
		Tick:          DefaultClock,
	}
}

func (t *Table) now() time.Time {
	if t.Tick == nil {
		return DefaultClock()
	}
	return t.Tick()
}

func (t *Table) delimiter() string {
	if t.KeyDelimiter == "" {
		return "#"
	}
	return t.KeyDelimiter
}

// Key composes the primary table key of the record addressed by ids.
func (t *Table) Key(schema *Schema, ids Identifiers) (Item, error) {
	primary, _ := schema.AccessPattern(PrimaryAccessPattern)
	key, err := ComposeKey(primary, ids, schema.Entity, t.delimiter())
	if err != nil {
		return nil, err
	}
	if len(primary.SortKey()) > 0 && !key.SortComplete {
		return nil, fmt.Errorf("%w: entity %s requires every primary sort key attribute", ErrInvalidArgument, schema.Entity)
	}
	return Item{
		AttributeNameHashKey: &types.AttributeValueMemberS{Value: key.Partition},
		AttributeNameSortKey: &types.AttributeValueMemberS{Value: key.Sort},
	}, nil
}

// MarshalItem marshals a record into a table item, including the key
// attributes of every secondary access pattern whose partition key the
// record carries.
func (t *Table) MarshalItem(schema *Schema, data Record) (Item, error) {
	key, err := t.Key(schema, data)
	if err != nil {
		return nil, err
	}
	now := t.now()
	hk := key[AttributeNameHashKey].(*types.AttributeValueMemberS).Value
	item, err := attributevalue.MarshalMap(entityItem{
		HashKey:     hk,
		SortKey:     key[AttributeNameSortKey].(*types.AttributeValueMemberS).Value,
		Label:       schema.Entity,
		ListSortKey: hk,
		CreatedAt:   now,
		UpdatedAt:   now,
		Data:        data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item: %w", err)
	}

	for _, name := range schema.AccessPatternNames() {
		p, _ := schema.AccessPattern(name)
		if p.IndexName == "" {
			continue
		}
		pk, err := ComposeKey(p, data, schema.Entity, t.delimiter())
		if err != nil {
			continue
		}
		item[PatternHashKey(p.Name)] = &types.AttributeValueMemberS{Value: pk.Partition}
		item[PatternSortKey(p.Name)] = &types.AttributeValueMemberS{Value: pk.Sort}
	}
	return item, nil
}

// MarshalPut marshals a new record into a put item request. The request
// fails on the server if the record already exists.
func (t *Table) MarshalPut(schema *Schema, data Record) (*dynamodb.PutItemInput, error) {
	item, err := t.MarshalItem(schema, data)
	if err != nil {
		return nil, err
	}
	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name(AttributeNameHashKey))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}
	return &dynamodb.PutItemInput{
		TableName:                aws.String(t.TableName),
		Item:                     item,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	}, nil
}

// projection renders the stored attributes to read. The hash key is always
// included so an empty projection still tells found from missing.
func projection(attrs []string) (expression.ProjectionBuilder, bool) {
	if len(attrs) == 0 {
		return expression.ProjectionBuilder{}, false
	}
	proj := expression.NamesList(expression.Name(AttributeNameHashKey))
	for _, attr := range attrs {
		proj = proj.AddNames(DataAttribute(attr))
	}
	return proj, true
}

// MarshalGet marshals a get item request for the record addressed by ids.
func (t *Table) MarshalGet(schema *Schema, ids Identifiers, attrs []string) (*dynamodb.GetItemInput, error) {
	key, err := t.Key(schema, ids)
	if err != nil {
		return nil, err
	}
	input := &dynamodb.GetItemInput{
		TableName: aws.String(t.TableName),
		Key:       key,
	}
	if proj, ok := projection(attrs); ok {
		expr, err := expression.NewBuilder().WithProjection(proj).Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build expression: %w", err)
		}
		input.ProjectionExpression = expr.Projection()
		input.ExpressionAttributeNames = expr.Names()
	}
	return input, nil
}

// MarshalBatchGet marshals batch get requests for every distinct key in ids.
// Since there is a limit on how many keys can be contained in a single
// input, the requests are chunked in sizes of 100 or less.
func (t *Table) MarshalBatchGet(schema *Schema, ids []Identifiers, attrs []string) ([]*dynamodb.BatchGetItemInput, error) {
	var (
		keys []Item
		seen = make(map[string]bool)
	)
	for _, id := range ids {
		key, err := t.Key(schema, id)
		if err != nil {
			return nil, err
		}
		hk := key[AttributeNameHashKey].(*types.AttributeValueMemberS).Value
		sk := key[AttributeNameSortKey].(*types.AttributeValueMemberS).Value
		if seen[hk+"\x00"+sk] {
			continue
		}
		seen[hk+"\x00"+sk] = true
		keys = append(keys, key)
	}

	var (
		projExpr *string
		names    map[string]string
	)
	if proj, ok := projection(attrs); ok {
		expr, err := expression.NewBuilder().WithProjection(proj).Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build expression: %w", err)
		}
		projExpr = expr.Projection()
		names = expr.Names()
	}

	var batches []*dynamodb.BatchGetItemInput
	for i := 0; i < len(keys); i += MaxBatchGetSize {
		end := min(i+MaxBatchGetSize, len(keys))
		batches = append(batches, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{
				t.TableName: {
					Keys:                     keys[i:end],
					ProjectionExpression:     projExpr,
					ExpressionAttributeNames: names,
				},
			},
		})
	}
	return batches, nil
}

// MarshalBatchDelete marshals batch write delete requests, chunked in sizes
// of 25 or less.
func (t *Table) MarshalBatchDelete(schema *Schema, ids []Identifiers) ([]*dynamodb.BatchWriteItemInput, error) {
	var batches []*dynamodb.BatchWriteItemInput
	for i := 0; i < len(ids); i += MaxBatchSize {
		end := min(i+MaxBatchSize, len(ids))

		var writeRequests []types.WriteRequest
		for _, id := range ids[i:end] {
			key, err := t.Key(schema, id)
			if err != nil {
				return nil, err
			}
			writeRequests = append(writeRequests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: key},
			})
		}

		batches = append(batches, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				t.TableName: writeRequests,
			},
		})
	}
	return batches, nil
}

// MarshalDelete marshals a delete item request that returns the deleted item.
func (t *Table) MarshalDelete(schema *Schema, ids Identifiers) (*dynamodb.DeleteItemInput, error) {
	key, err := t.Key(schema, ids)
	if err != nil {
		return nil, err
	}
	return &dynamodb.DeleteItemInput{
		TableName:    aws.String(t.TableName),
		Key:          key,
		ReturnValues: types.ReturnValueAllOld,
	}, nil
}

// RekeyedPatterns returns the secondary access patterns whose key
// attributes appear in data. Their stored keys change with the update.
func RekeyedPatterns(schema *Schema, data Record) []AccessPattern {
	var out []AccessPattern
	for _, name := range schema.AccessPatternNames() {
		p, _ := schema.AccessPattern(name)
		if p.IndexName == "" {
			continue
		}
		for _, attr := range p.Attributes {
			if _, ok := data[attr.Name]; ok {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// MarshalUpdate marshals an update item request that sets each attribute of
// data inside the stored record. The request fails on the server if the
// record does not exist.
//
// Secondary pattern keys are left untouched; use MarshalRekeyedUpdate when
// data changes a key attribute.
func (t *Table) MarshalUpdate(schema *Schema, ids Identifiers, data Record) (*dynamodb.UpdateItemInput, error) {
	return t.MarshalRekeyedUpdate(schema, ids, data, nil)
}

// MarshalRekeyedUpdate is MarshalUpdate that also rewrites the keys of every
// pattern returned by RekeyedPatterns. The keys are composed from current
// with data applied on top; a key whose partition becomes incomplete is
// removed so the item drops out of that index. A nil current rewrites
// nothing.
func (t *Table) MarshalRekeyedUpdate(schema *Schema, ids Identifiers, data, current Record) (*dynamodb.UpdateItemInput, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: update carries no attributes", ErrInvalidArgument)
	}
	key, err := t.Key(schema, ids)
	if err != nil {
		return nil, err
	}

	update := expression.Set(expression.Name(AttributeNameUpdated), expression.Value(t.now()))
	for _, name := range sortedNames(data) {
		update = update.Set(DataAttribute(name), expression.Value(data[name]))
	}
	if current != nil {
		merged := make(Record, len(current)+len(data))
		for k, v := range current {
			merged[k] = v
		}
		for k, v := range data {
			merged[k] = v
		}
		for _, p := range RekeyedPatterns(schema, data) {
			hk, sk := expression.Name(PatternHashKey(p.Name)), expression.Name(PatternSortKey(p.Name))
			pk, err := ComposeKey(p, merged, schema.Entity, t.delimiter())
			if err != nil {
				update = update.Remove(hk).Remove(sk)
				continue
			}
			update = update.
				Set(hk, expression.Value(pk.Partition)).
				Set(sk, expression.Value(pk.Sort))
		}
	}
	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(expression.AttributeExists(expression.Name(AttributeNameHashKey))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	return &dynamodb.UpdateItemInput{
		TableName:                 aws.String(t.TableName),
		Key:                       key,
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	}, nil
}

// MarshalQuery marshals the input into a query item request.
func (t *Table) MarshalQuery(in QueryMarshaler) (*dynamodb.QueryInput, error) {
	input, err := in.MarshalQuery(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	input.TableName = aws.String(t.TableName)
	if index := in.IndexName(t); index != "" {
		input.IndexName = aws.String(index)
	}
	return input, nil
}
