package dynamostore

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"yaha-bot/internal/domain"
	"yaha-bot/internal/persistence"
)

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// columnAttr encodes a record column. Nulls are stored as explicit NULL
// attributes so a read-back distinguishes "absent" from "zero".
func columnAttr(c domain.Column) types.AttributeValue {
	switch v := c.Value.(type) {
	case float64:
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(v, 'f', -1, 64)}
	case int:
		return &types.AttributeValueMemberN{Value: strconv.Itoa(v)}
	case string:
		return &types.AttributeValueMemberS{Value: v}
	case []string:
		list := make([]types.AttributeValue, 0, len(v))
		for _, s := range v {
			list = append(list, &types.AttributeValueMemberS{Value: s})
		}
		return &types.AttributeValueMemberL{Value: list}
	}
	return &types.AttributeValueMemberNULL{Value: true}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("dynamostore: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamostore: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("dynamostore: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("dynamostore: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("dynamostore: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func numAttr(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func conditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// storeError maps an SDK error onto the persistence status taxonomy.
func storeError(err error) error {
	if conditionFailed(err) {
		return &persistence.StoreError{Status: http.StatusConflict, Body: errorBody(err), Err: err}
	}
	var throughput *types.ProvisionedThroughputExceededException
	var limit *types.RequestLimitExceeded
	if errors.As(err, &throughput) || errors.As(err, &limit) {
		return &persistence.StoreError{Status: http.StatusTooManyRequests, Body: errorBody(err), Err: err}
	}
	var coded httpStatusCoder
	if errors.As(err, &coded) {
		return &persistence.StoreError{Status: coded.HTTPStatusCode(), Body: errorBody(err), Err: err}
	}
	return &persistence.StoreError{Err: err}
}

func errorBody(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf(`{"code":%q,"message":%q}`, apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return err.Error()
}
