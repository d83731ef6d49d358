package dynamostore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"yaha-bot/internal/domain"
	"yaha-bot/internal/negotiation"
	"yaha-bot/internal/persistence"
)

type fakeDynamo struct {
	getOut     *dynamodb.GetItemOutput
	getErr     error
	putErrs    []error
	queryOuts  []*dynamodb.QueryOutput
	queryErr   error
	scanOut    *dynamodb.ScanOutput
	deleteErr  error
	puts       []*dynamodb.PutItemInput
	queries    []*dynamodb.QueryInput
	lastGet    *dynamodb.GetItemInput
	lastDelete *dynamodb.DeleteItemInput
	lastScan   *dynamodb.ScanInput
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.puts = append(f.puts, in)
	if len(f.putErrs) > 0 {
		err := f.putErrs[0]
		f.putErrs = f.putErrs[1:]
		return nil, err
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGet = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	cp := *in
	f.queries = append(f.queries, &cp)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	out := f.queryOuts[0]
	f.queryOuts = f.queryOuts[1:]
	return out, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.lastDelete = in
	return &dynamodb.DeleteItemOutput{}, f.deleteErr
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.lastScan = in
	return f.scanOut, nil
}

type statusErr struct{ code int }

func (e *statusErr) Error() string       { return "http failure" }
func (e *statusErr) HTTPStatusCode() int { return e.code }

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, persistence.DefaultTables(), "sessions")
	require.NoError(t, err)
	return c
}

func sleepRecord() *domain.SleepRecord {
	return &domain.SleepRecord{
		Meta:       domain.Meta{ChatID: "chat-1", Date: "2026-10-18"},
		DurationHr: domain.Float(7),
		RestingHr:  domain.Int(55),
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, persistence.DefaultTables(), "s")
	require.Error(t, err)
	_, err = New(&fakeDynamo{}, persistence.DefaultTables(), " ")
	require.ErrorContains(t, err, "sessions table")
	tables := persistence.DefaultTables()
	tables.Food = ""
	_, err = New(&fakeDynamo{}, tables, "s")
	require.ErrorContains(t, err, "food table")
}

func TestInsert_ConditionalPutWithExplicitNulls(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	id, err := c.Insert(context.Background(), sleepRecord(), "key-1", "corr-1")
	require.NoError(t, err)
	require.Equal(t, "key-1", id)

	in := db.puts[0]
	require.Equal(t, "sleep", *in.TableName)
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *in.ConditionExpression)
	require.Equal(t, &types.AttributeValueMemberS{Value: "DEDUPE#key-1"}, in.Item["PK"])
	require.Equal(t, &types.AttributeValueMemberN{Value: "7"}, in.Item["duration_hr"])
	require.Equal(t, &types.AttributeValueMemberN{Value: "55"}, in.Item["resting_hr"])
	require.Equal(t, &types.AttributeValueMemberNULL{Value: true}, in.Item["sleep_score"])
	require.Equal(t, &types.AttributeValueMemberS{Value: "corr-1"}, in.Item["correlation_id"])
}

func TestInsert_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"duplicate key", &types.ConditionalCheckFailedException{Message: strPtr("exists")}, http.StatusConflict},
		{"throttled", &types.ProvisionedThroughputExceededException{}, http.StatusTooManyRequests},
		{"validation", &statusErr{code: 400}, 400},
		{"server", &statusErr{code: 500}, 500},
		{"network", errors.New("dial tcp: i/o timeout"), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := mustNewClient(t, &fakeDynamo{putErrs: []error{tc.err}})
			_, err := c.Insert(context.Background(), sleepRecord(), "k", "c")
			var se *persistence.StoreError
			require.ErrorAs(t, err, &se)
			require.Equal(t, tc.status, se.Status)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestInsert_WriterTreatsDuplicateAsConflict(t *testing.T) {
	db := &fakeDynamo{putErrs: []error{nil, &types.ConditionalCheckFailedException{}}}
	c := mustNewClient(t, db)
	w, err := persistence.NewWriter(c, time.Second)
	require.NoError(t, err)

	require.Equal(t, domain.PersistSuccess, w.Persist(context.Background(), sleepRecord(), "corr-1").Status)
	second := w.Persist(context.Background(), sleepRecord(), "corr-1")
	require.Equal(t, domain.PersistConflict, second.Status)
	require.Equal(t, db.puts[0].Item["PK"], db.puts[1].Item["PK"])
}

func TestAppendEntry_AndReadBack(t *testing.T) {
	at := time.Date(2026, 10, 18, 7, 0, 0, 0, time.UTC)
	entry := domain.ShadowLogEntry{
		ID: "e1", CorrelationID: "corr-1", ChatID: "chat-1", Container: domain.ContainerSleep,
		Outcome: domain.OutcomePersisted, CreatedAt: at,
		Events: []domain.TraceEvent{{Stage: domain.StagePersistence, Status: domain.StatusOK, At: at}},
	}
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.AppendEntry(context.Background(), entry))

	put := db.puts[0]
	require.Equal(t, "entries", *put.TableName)
	require.Equal(t, &types.AttributeValueMemberS{Value: "CORR#corr-1"}, put.Item["PK"])
	require.Equal(t, &types.AttributeValueMemberS{Value: "ENTRY#2026-10-18T07:00:00Z#e1"}, put.Item["SK"])
	require.NotNil(t, put.ConditionExpression)

	payload := put.Item["payload"]
	db.queryOuts = []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{{"payload": payload}}, LastEvaluatedKey: map[string]types.AttributeValue{"PK": put.Item["PK"]}},
		{Items: []map[string]types.AttributeValue{{"payload": payload}}},
	}
	got, err := c.EntriesByCorrelation(context.Background(), "corr-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, entry, got[0])
	require.Len(t, db.queries, 2)
	require.NotNil(t, db.queries[1].ExclusiveStartKey)
}

func TestAppendEntry_RequiresIDs(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	require.Error(t, c.AppendEntry(context.Background(), domain.ShadowLogEntry{ID: "x"}))
}

func TestSessions_SaveConditions(t *testing.T) {
	now := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	sess := negotiation.NewSession("chat-1", "corr-1", now, 30*time.Minute)
	sess.Record = sleepRecord()

	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.Save(context.Background(), sess))
	require.Equal(t, 1, sess.Version)
	require.Equal(t, "attribute_not_exists(PK)", *db.puts[0].ConditionExpression)
	require.Equal(t, &types.AttributeValueMemberN{Value: "1"}, db.puts[0].Item["version"])

	require.NoError(t, c.Save(context.Background(), sess))
	require.Equal(t, "version = :v AND correlationId = :corr", *db.puts[1].ConditionExpression)
	require.Equal(t, &types.AttributeValueMemberN{Value: "1"}, db.puts[1].ExpressionAttributeValues[":v"])

	db.putErrs = []error{&types.ConditionalCheckFailedException{}}
	err := c.Save(context.Background(), sess)
	require.ErrorIs(t, err, negotiation.ErrVersionConflict)
	require.Equal(t, 2, sess.Version)
}

func TestSessions_PendingRoundTrip(t *testing.T) {
	now := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	sess := negotiation.NewSession("chat-1", "corr-1", now, 30*time.Minute)
	sess.Record = sleepRecord()
	payload, err := json.Marshal(sess)
	require.NoError(t, err)

	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"payload": &types.AttributeValueMemberS{Value: string(payload)},
		"version": &types.AttributeValueMemberN{Value: "4"},
	}}}
	c := mustNewClient(t, db)
	got, err := c.Pending(context.Background(), "chat-1")
	require.NoError(t, err)
	require.Equal(t, 4, got.Version)
	require.Equal(t, 7.0, *got.Record.(*domain.SleepRecord).DurationHr)
	require.True(t, *db.lastGet.ConsistentRead)

	db.getOut = &dynamodb.GetItemOutput{}
	_, err = c.Pending(context.Background(), "chat-2")
	require.ErrorIs(t, err, negotiation.ErrNotFound)
}

func TestSessions_DeleteAndExpired(t *testing.T) {
	db := &fakeDynamo{deleteErr: &types.ConditionalCheckFailedException{}, scanOut: &dynamodb.ScanOutput{}}
	c := mustNewClient(t, db)
	require.NoError(t, c.Delete(context.Background(), "chat-1", "corr-1"))
	require.Equal(t, "correlationId = :corr", *db.lastDelete.ConditionExpression)

	db.deleteErr = errors.New("boom")
	require.ErrorContains(t, c.Delete(context.Background(), "chat-1", "corr-1"), "boom")

	now := time.Unix(1_800_000_000, 0)
	got, err := c.Expired(context.Background(), now)
	require.NoError(t, err)
	require.Empty(t, got)
	require.Equal(t, &types.AttributeValueMemberN{Value: "1800000000"}, db.lastScan.ExpressionAttributeValues[":now"])
}

func strPtr(s string) *string { return &s }
