package fw24

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func init() {
	// Register DynamoDB types with gob
	gob.Register(map[string]types.AttributeValue{})
	gob.Register(&types.AttributeValueMemberS{})
	gob.Register(&types.AttributeValueMemberN{})
	gob.Register(&types.AttributeValueMemberB{})
	gob.Register(&types.AttributeValueMemberSS{})
	gob.Register(&types.AttributeValueMemberNS{})
	gob.Register(&types.AttributeValueMemberBS{})
	gob.Register(&types.AttributeValueMemberM{})
	gob.Register(&types.AttributeValueMemberL{})
	gob.Register(&types.AttributeValueMemberNULL{})
	gob.Register(&types.AttributeValueMemberBOOL{})
}

const pageLabel = "page"

// Paginator handles pagination by converting last evaluated keys into string
// cursors for clients, and in turn converting client cursors into start keys
// to continue paging of query results.
type Paginator interface {
	// PageCursor generates a string token from the provided start key. Implementors
	// should return an empty token if the start key is nil or empty.
	PageCursor(ctx context.Context, lastkey Item) (string, error)
	// StartKey generates a dynamodb start key from the provided cursor. Implementors
	// should return a nil item if the cursor is an empty string.
	StartKey(ctx context.Context, cursor string) (Item, error)
}

// TablePaginator implements Paginator by storing and retrieving start keys in the same table.
type TablePaginator struct {
	table  *Table         // table configuration
	client DynamoDBClient // dynamodb client
}

// pageCursorKey is the hash and sort key of the item storing cursor.
func (t *Table) pageCursorKey(cursor string) Item {
	key := pageLabel + t.delimiter() + cursor
	return Item{
		AttributeNameHashKey: &types.AttributeValueMemberS{Value: key},
		AttributeNameSortKey: &types.AttributeValueMemberS{Value: key},
	}
}

// marshalPageCursor stores the gob encoded last key under the cursor, expiring
// after the table's pagination TTL.
func (t *Table) marshalPageCursor(cursor string, encoded []byte) (*dynamodb.PutItemInput, error) {
	key := pageLabel + t.delimiter() + cursor
	now := t.now()
	rec := entityItem{
		HashKey:   key,
		SortKey:   key,
		Label:     pageLabel,
		CreatedAt: now,
		UpdatedAt: now,
		Data:      map[string]any{"key": encoded},
	}
	if t.PaginationTTL > 0 {
		expires := now.Add(t.PaginationTTL)
		rec.Expires = &expires
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item: %w", err)
	}
	return &dynamodb.PutItemInput{
		TableName: aws.String(t.TableName),
		Item:      item,
	}, nil
}

// PageCursor implements Paginator by storing the last evaluated key into the dynamodb table.
// If lastkey is nil, an empty string is returned.
func (t *TablePaginator) PageCursor(ctx context.Context, lastkey Item) (string, error) {
	if len(lastkey) == 0 {
		return "", nil
	}

	cursor, err := generateCursor()
	if err != nil {
		return "", fmt.Errorf("failed to generate cursor: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(lastkey); err != nil {
		return "", fmt.Errorf("failed to encode last key: %w", err)
	}

	putInput, err := t.table.marshalPageCursor(cursor, buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("failed to marshal page cursor: %w", err)
	}

	if _, err = t.client.PutItem(ctx, putInput); err != nil {
		return "", fmt.Errorf("failed to store page cursor: %w", err)
	}

	return cursor, nil
}

// StartKey implements Paginator by retrieving the item referenced by cursor.
// If the item is not found or has expired, nil is returned.
func (t *TablePaginator) StartKey(ctx context.Context, cursor string) (Item, error) {
	if cursor == "" {
		return nil, nil
	}

	result, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(t.table.TableName),
		Key:       t.table.pageCursorKey(cursor),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get page cursor: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var stored struct {
		Expires *time.Time `dynamodbav:"expires,omitempty,unixtime"`
		Data    struct {
			Key []byte `dynamodbav:"key"`
		} `dynamodbav:"data"`
	}
	if err := attributevalue.UnmarshalMap(result.Item, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal page cursor: %w", err)
	}
	// expired items linger until the TTL sweeper removes them
	if stored.Expires != nil && !t.table.now().Before(*stored.Expires) {
		return nil, nil
	}
	if len(stored.Data.Key) == 0 {
		return nil, nil
	}

	var keyData map[string]types.AttributeValue
	if err := gob.NewDecoder(bytes.NewReader(stored.Data.Key)).Decode(&keyData); err != nil {
		return nil, fmt.Errorf("failed to decode last key: %w", err)
	}

	return keyData, nil
}

// Paginator returns a Paginator to extract and generate client cursors.
func (t *Table) Paginator(client DynamoDBClient) Paginator {
	return &TablePaginator{
		table:  t,
		client: client,
	}
}

// generateCursor creates a unique cursor string using current time and random bytes
func generateCursor() (string, error) {
	timestamp := time.Now().UnixNano()

	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}

	combined := fmt.Sprintf("%d_%s", timestamp, base64.URLEncoding.EncodeToString(randomBytes))
	return base64.URLEncoding.EncodeToString([]byte(combined)), nil
}
