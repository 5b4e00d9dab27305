package fw24

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// QueryMarshaler can marshal input into a dynamodb query request.
type QueryMarshaler interface {
	MarshalQuery(*Table) (*dynamodb.QueryInput, error)
	// IndexName returns the index to query, or "" for the table itself.
	IndexName(*Table) string
}

// QueryList is a QueryMarshaler that searches the list index for every
// record of an entity.
type QueryList struct {
	Label           string                      // The entity name
	ConditionFilter expression.ConditionBuilder // Optional filters on the stored record
	Attributes      []string                    // Optional projection of record attributes
	Limit           int                         // Maximum number of items to evaluate
	StartKey        Item                        // Exclusive start key for pagination
	SortDescending  bool                        // Scan direction (default: false)
}

// MarshalQuery implements QueryMarshaler for QueryList.
func (q *QueryList) MarshalQuery(*Table) (*dynamodb.QueryInput, error) {
	keyCondition := expression.Key(AttributeNameLabel).Equal(expression.Value(q.Label))
	return marshalQuery(keyCondition, q.ConditionFilter, q.Attributes, q.Limit, q.StartKey, q.SortDescending)
}

func (q *QueryList) IndexName(t *Table) string { return t.ListIndexName }

// QueryPattern is a QueryMarshaler that searches by an access pattern. The
// partition key must be complete; a partial sort key matches by prefix.
type QueryPattern struct {
	Schema          *Schema
	Pattern         AccessPattern
	Identifiers     Identifiers
	ConditionFilter expression.ConditionBuilder
	Attributes      []string
	Limit           int
	StartKey        Item
	SortDescending  bool
}

// MarshalQuery implements QueryMarshaler for QueryPattern.
func (q *QueryPattern) MarshalQuery(t *Table) (*dynamodb.QueryInput, error) {
	key, err := ComposeKey(q.Pattern, q.Identifiers, q.Schema.Entity, t.delimiter())
	if err != nil {
		return nil, err
	}

	hkName, skName := AttributeNameHashKey, AttributeNameSortKey
	if q.Pattern.IndexName != "" {
		hkName, skName = PatternHashKey(q.Pattern.Name), PatternSortKey(q.Pattern.Name)
	}

	keyCondition := expression.Key(hkName).Equal(expression.Value(key.Partition))
	switch {
	case len(q.Pattern.SortKey()) == 0:
		// the sort key is the entity prefix alone
	case key.SortComplete:
		keyCondition = keyCondition.And(expression.Key(skName).Equal(expression.Value(key.Sort)))
	default:
		keyCondition = keyCondition.And(expression.Key(skName).BeginsWith(key.Sort + t.delimiter()))
	}
	return marshalQuery(keyCondition, q.ConditionFilter, q.Attributes, q.Limit, q.StartKey, q.SortDescending)
}

func (q *QueryPattern) IndexName(*Table) string { return q.Pattern.IndexName }

func marshalQuery(keyCondition expression.KeyConditionBuilder, filter expression.ConditionBuilder, attrs []string, limit int, startKey Item, descending bool) (*dynamodb.QueryInput, error) {
	builder := expression.NewBuilder().WithKeyCondition(keyCondition)
	if filter.IsSet() {
		builder = builder.WithFilter(filter)
	}
	if proj, ok := projection(attrs); ok {
		builder = builder.WithProjection(proj)
	}

	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		FilterExpression:          expr.Filter(),
		ProjectionExpression:      expr.Projection(),
		ScanIndexForward:          aws.Bool(!descending),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}
	if startKey != nil {
		input.ExclusiveStartKey = startKey
	}
	return input, nil
}
