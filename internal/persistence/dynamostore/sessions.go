package dynamostore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"yaha-bot/internal/domain"
	"yaha-bot/internal/negotiation"
)

// sessionGrace keeps expired sessions around long enough for the expiry
// sweep to abandon them before DynamoDB TTL removes the row.
const sessionGrace = 24 * time.Hour

func chatPK(chatID string) string {
	return "CHAT#" + chatID
}

func sessionKey(chatID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: chatPK(chatID)},
		"SK": &types.AttributeValueMemberS{Value: skSession},
	}
}

// Pending returns the chat's pending session.
func (c *Client) Pending(ctx context.Context, chatID string) (*domain.NegotiationSession, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.sessionTable),
		Key:            sessionKey(chatID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamostore: Pending get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, negotiation.ErrNotFound
	}
	return itemToSession(out.Item)
}

// Save writes sess if its Version still matches the stored row, then
// increments Version.
func (c *Client) Save(ctx context.Context, sess *domain.NegotiationSession) error {
	next := *sess
	next.Version = sess.Version + 1
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("dynamostore: Save marshal: %w", err)
	}

	item := sessionKey(sess.ChatID)
	item["correlationId"] = &types.AttributeValueMemberS{Value: sess.CorrelationID}
	item["version"] = numAttr(int64(next.Version))
	item["state"] = &types.AttributeValueMemberS{Value: string(sess.State)}
	item["deadline"] = numAttr(sess.Deadline.Unix())
	item["ttl"] = numAttr(sess.Deadline.Add(sessionGrace).Unix())
	item["payload"] = &types.AttributeValueMemberS{Value: string(payload)}

	in := &dynamodb.PutItemInput{
		TableName: aws.String(c.sessionTable),
		Item:      item,
	}
	if sess.Version == 0 {
		in.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		in.ConditionExpression = aws.String("version = :v AND correlationId = :corr")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":v":    numAttr(int64(sess.Version)),
			":corr": &types.AttributeValueMemberS{Value: sess.CorrelationID},
		}
	}

	if _, err := c.api.PutItem(ctx, in); err != nil {
		if conditionFailed(err) {
			return fmt.Errorf("dynamostore: Save %s: %w", sess.CorrelationID, negotiation.ErrVersionConflict)
		}
		return fmt.Errorf("dynamostore: Save: %w", err)
	}
	sess.Version = next.Version
	return nil
}

// Delete removes the chat's session if it still belongs to correlationID.
func (c *Client) Delete(ctx context.Context, chatID, correlationID string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(c.sessionTable),
		Key:                 sessionKey(chatID),
		ConditionExpression: aws.String("correlationId = :corr"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":corr": &types.AttributeValueMemberS{Value: correlationID},
		},
	})
	if err != nil && !conditionFailed(err) {
		return fmt.Errorf("dynamostore: Delete: %w", err)
	}
	return nil
}

// Expired scans for sessions whose deadline is before now.
func (c *Client) Expired(ctx context.Context, now time.Time) ([]*domain.NegotiationSession, error) {
	in := &dynamodb.ScanInput{
		TableName:        aws.String(c.sessionTable),
		FilterExpression: aws.String("deadline < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	}
	var out []*domain.NegotiationSession
	for {
		page, err := c.api.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("dynamostore: Expired scan: %w", err)
		}
		for _, item := range page.Items {
			s, err := itemToSession(item)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		in.ExclusiveStartKey = page.LastEvaluatedKey
	}
}

func itemToSession(item map[string]types.AttributeValue) (*domain.NegotiationSession, error) {
	raw, err := strAttr(item, "payload")
	if err != nil {
		return nil, err
	}
	version, err := intAttr(item, "version")
	if err != nil {
		return nil, err
	}
	var s domain.NegotiationSession
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("dynamostore: decode session: %w", err)
	}
	s.Version = version
	return &s, nil
}
