package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/guest-avatar/internal/pipeline"
)

// DynamoAPI is the subset of the DynamoDB client the ledger uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoLedger records guest results in a DynamoDB table.
type DynamoLedger struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

// Compile-time interface check.
var _ pipeline.ResultSink = (*DynamoLedger)(nil)

// NewDynamoLedger creates a DynamoLedger for the given table.
func NewDynamoLedger(client DynamoAPI, tableName string) *DynamoLedger {
	return &DynamoLedger{client: client, tableName: tableName, now: time.Now}
}

// Record stores r under batchID, replacing any previous entry for the row.
func (l *DynamoLedger) Record(ctx context.Context, batchID string, r pipeline.Result) error {
	now := l.now()
	entry := EntryFromResult(batchID, r, now)
	if err := l.putItem(ctx, batchPK(batchID), guestSK(r.Row), entry, now); err != nil {
		return fmt.Errorf("record guest %d in batch %s: %w", r.Row, batchID, err)
	}
	log.Debug().Str("batchId", batchID).Int("row", r.Row).Bool("success", r.Success).Msg("Result persisted to DynamoDB")
	return nil
}

// Batch returns every entry recorded for batchID in row order.
func (l *DynamoLedger) Batch(ctx context.Context, batchID string) ([]Entry, error) {
	pk := batchPK(batchID)
	input := &dynamodb.QueryInput{
		TableName:              &l.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: pk},
			":skPrefix": &types.AttributeValueMemberS{Value: skPrefix},
		},
	}

	var entries []Entry
	for {
		result, err := l.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s: %w", pk, err)
		}
		for _, item := range result.Items {
			var e Entry
			if err := attributevalue.UnmarshalMap(item, &e); err != nil {
				return nil, fmt.Errorf("unmarshal ledger entry: %w", err)
			}
			e.BatchID = batchID
			if sk, ok := item["SK"].(*types.AttributeValueMemberS); ok {
				if row, err := rowFromSK(sk.Value); err == nil {
					e.Row = row
				}
			}
			entries = append(entries, e)
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return entries, nil
}

// putItem marshals data and writes it with PK, SK and TTL attributes.
func (l *DynamoLedger) putItem(ctx context.Context, pk, sk string, data any, now time.Time) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(LedgerTTL).Unix(), 10)}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &l.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}
