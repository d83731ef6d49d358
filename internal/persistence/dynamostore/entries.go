package dynamostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"yaha-bot/internal/domain"
)

func corrPK(correlationID string) string {
	return "CORR#" + correlationID
}

func entrySK(e domain.ShadowLogEntry) string {
	return "ENTRY#" + e.CreatedAt.UTC().Format(time.RFC3339Nano) + "#" + e.ID
}

// AppendEntry writes one shadow log entry. Entries are write-once: an
// existing key fails the condition and is reported as an error.
func (c *Client) AppendEntry(ctx context.Context, e domain.ShadowLogEntry) error {
	if e.ID == "" || e.CorrelationID == "" {
		return errors.New("dynamostore: AppendEntry: id and correlation id are required")
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("dynamostore: AppendEntry marshal: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tables.Entries),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: corrPK(e.CorrelationID)},
			"SK":        &types.AttributeValueMemberS{Value: entrySK(e)},
			"chatId":    &types.AttributeValueMemberS{Value: e.ChatID},
			"outcome":   &types.AttributeValueMemberS{Value: string(e.Outcome)},
			"container": &types.AttributeValueMemberS{Value: string(e.Container)},
			"createdAt": &types.AttributeValueMemberS{Value: e.CreatedAt.UTC().Format(time.RFC3339Nano)},
			"payload":   &types.AttributeValueMemberS{Value: string(payload)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("dynamostore: AppendEntry: %w", err)
	}
	return nil
}

// EntriesByCorrelation returns every entry of a correlation id, oldest first.
func (c *Client) EntriesByCorrelation(ctx context.Context, correlationID string) ([]domain.ShadowLogEntry, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tables.Entries),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: corrPK(correlationID)},
			":prefix": &types.AttributeValueMemberS{Value: "ENTRY#"},
		},
		ScanIndexForward: aws.Bool(true),
	}

	var entries []domain.ShadowLogEntry
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("dynamostore: EntriesByCorrelation query: %w", err)
		}
		for _, item := range out.Items {
			raw, err := strAttr(item, "payload")
			if err != nil {
				return nil, fmt.Errorf("dynamostore: EntriesByCorrelation: %w", err)
			}
			var e domain.ShadowLogEntry
			if err := json.Unmarshal([]byte(raw), &e); err != nil {
				return nil, fmt.Errorf("dynamostore: EntriesByCorrelation unmarshal: %w", err)
			}
			entries = append(entries, e)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return entries, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}
