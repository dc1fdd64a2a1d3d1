package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ShayCichocki/relay/pkg/models"
)

const pkPrefix = "CONV#"

// dynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type dynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoStore keeps one item per conversation in a DynamoDB table keyed
// by PK. Saves are single conditional PutItems.
type DynamoStore struct {
	api       dynamoAPI
	tableName string
	ttl       time.Duration
}

// NewDynamoStore creates a DynamoStore. A positive ttl sets an expires_at
// attribute for DynamoDB TTL expiry.
func NewDynamoStore(api dynamoAPI, tableName string, ttl time.Duration) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("state: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("state: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName, ttl: ttl}, nil
}

func conversationPK(id string) string {
	return pkPrefix + id
}

// Load implements CheckpointStore.
func (s *DynamoStore) Load(ctx context.Context, id string) (*models.ConversationState, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: conversationPK(id)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("state: load %s: %w", id, err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	raw, err := stringAttr(out.Item, "state")
	if err != nil {
		return nil, fmt.Errorf("state: load %s: %w", id, err)
	}
	revision, err := int64Attr(out.Item, "revision")
	if err != nil {
		return nil, fmt.Errorf("state: load %s: %w", id, err)
	}
	st, err := decodeState(id, []byte(raw))
	if err != nil {
		return nil, err
	}
	st.Revision = revision
	return st, nil
}

// Save implements CheckpointStore.
func (s *DynamoStore) Save(ctx context.Context, st *models.ConversationState, expectedRevision int64) error {
	next := expectedRevision + 1
	updated := time.Now().UTC()
	raw, err := encodeState(st, next, updated)
	if err != nil {
		return err
	}

	item := map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: conversationPK(st.ID)},
		"revision":      &types.AttributeValueMemberN{Value: strconv.FormatInt(next, 10)},
		"state":         &types.AttributeValueMemberS{Value: string(raw)},
		"label":         &types.AttributeValueMemberS{Value: st.Label()},
		"pending_items": &types.AttributeValueMemberN{Value: strconv.Itoa(len(st.Plan.Pending))},
		"updated_at":    &types.AttributeValueMemberS{Value: updated.Format(time.RFC3339)},
	}
	if s.ttl > 0 {
		item["expires_at"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(updated.Add(s.ttl).Unix(), 10)}
	}

	in := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}
	if expectedRevision == 0 {
		in.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		in.ConditionExpression = aws.String("revision = :expected")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedRevision, 10)},
		}
	}

	if _, err := s.api.PutItem(ctx, in); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrRevisionConflict
		}
		return fmt.Errorf("state: save %s: %w", st.ID, err)
	}

	st.Revision = next
	st.UpdatedAt = updated
	return nil
}

// Close implements io.Closer. The DynamoDB client holds no resources.
func (s *DynamoStore) Close() error {
	return nil
}

func stringAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q missing or not a string", key)
	}
	return v.Value, nil
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %q missing or not a number", key)
	}
	n, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %q: %w", key, err)
	}
	return n, nil
}
