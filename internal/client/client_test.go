package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bcrosbie/evalboard/internal/domain"
	"github.com/bcrosbie/evalboard/internal/rpccontract"
	"github.com/bcrosbie/evalboard/internal/selection"
	"github.com/bcrosbie/evalboard/internal/service"
)

var _ selection.Store = (*Client)(nil)

type call struct {
	method  string
	request proto.Message
	token   string
}

type fakeConn struct {
	calls    []call
	failures []error
	reply    proto.Message
}

func (f *fakeConn) Invoke(ctx context.Context, method string, args any, reply any, _ ...grpc.CallOption) error {
	token := ""
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		if values := md.Get(rpccontract.TokenHeader); len(values) > 0 {
			token = values[0]
		}
	}
	f.calls = append(f.calls, call{method: method, request: args.(proto.Message), token: token})
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return err
	}
	if f.reply != nil {
		proto.Merge(reply.(proto.Message), f.reply)
	}
	return nil
}

func newTestClient(conn *fakeConn) *Client {
	c := NewWithInvoker(conn, "default-token", time.Second, 3)
	c.retryDelay = time.Millisecond
	return c
}

func TestInvokeRetriesUnavailable(t *testing.T) {
	conn := &fakeConn{
		failures: []error{status.Error(codes.Unavailable, "down"), status.Error(codes.ResourceExhausted, "slow down")},
		reply:    mustStruct(t, map[string]any{"results": 4, "failures": 1}),
	}

	summary, err := newTestClient(conn).Summary(context.Background())
	require.NoError(t, err)
	assert.Len(t, conn.calls, 3)
	assert.Equal(t, 4, summary.Results)
	assert.Equal(t, 1, summary.Failures)
}

func TestInvokeDoesNotRetryInvalidArgument(t *testing.T) {
	conn := &fakeConn{failures: []error{status.Error(codes.InvalidArgument, "bad")}}

	err := newTestClient(conn).SetEvalModels(context.Background(), "", nil)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Len(t, conn.calls, 1)
}

func TestSelectionLoadIsNotRetried(t *testing.T) {
	conn := &fakeConn{failures: []error{
		status.Error(codes.Unavailable, "down"),
		status.Error(codes.Unavailable, "down"),
		status.Error(codes.Unavailable, "down"),
	}}

	_, err := selection.NewCoordinator(newTestClient(conn)).Load(context.Background(), "tok")
	var fetchErr *selection.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, codes.Unavailable, status.Code(errors.Unwrap(fetchErr)))
	assert.Len(t, conn.calls, 1)
}

func TestGetEvalDataIsNotRetried(t *testing.T) {
	conn := &fakeConn{failures: []error{status.Error(codes.Unavailable, "down")}}

	_, err := newTestClient(conn).GetEvalData(context.Background(), "", service.EvalDataRequest{})
	require.Error(t, err)
	assert.Len(t, conn.calls, 1)
}

func TestAccessTokenOverridesDefault(t *testing.T) {
	conn := &fakeConn{reply: mustList(t, []any{})}
	c := newTestClient(conn)

	_, err := c.ListEvalModels(context.Background(), "panel-token")
	require.NoError(t, err)
	_, err = c.ListEvalModels(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, conn.calls, 2)
	assert.Equal(t, "panel-token", conn.calls[0].token)
	assert.Equal(t, "default-token", conn.calls[1].token)
}

func TestSetEvalModelsSendsSnapshotRows(t *testing.T) {
	conn := &fakeConn{}
	rows := []domain.ModelDatasetUpdate{
		{ModelID: "qwen-72b", DatasetKeys: []string{domain.DatasetAIME24}},
		{ModelID: "llama-8b", DatasetKeys: []string{}},
	}

	require.NoError(t, newTestClient(conn).SetEvalModels(context.Background(), "tok", rows))
	require.Len(t, conn.calls, 1)
	assert.Equal(t, rpccontract.MethodSetEvalModels, conn.calls[0].method)

	sent := conn.calls[0].request.(*structpb.ListValue).AsSlice()
	assert.Equal(t, []any{
		map[string]any{"model_id": "qwen-72b", "dataset_keys": []any{domain.DatasetAIME24}},
		map[string]any{"model_id": "llama-8b", "dataset_keys": []any{}},
	}, sent)
}

func TestGetEvalDataDecodesGroups(t *testing.T) {
	conn := &fakeConn{reply: mustStruct(t, map[string]any{
		"2025-03-01": []any{map[string]any{
			"model_id":    "m1",
			"dataset_key": domain.DatasetAIME25,
			"score":       0.5,
			"num":         25,
			"date":        "2025-03-01",
		}},
	})}

	data, err := newTestClient(conn).GetEvalData(context.Background(), "tok", service.EvalDataRequest{ModelID: "m1"})
	require.NoError(t, err)
	require.Len(t, data["2025-03-01"], 1)
	got := data["2025-03-01"][0]
	assert.Equal(t, "m1", got.ModelID)
	assert.Equal(t, 25, got.Num)
	assert.Equal(t, "2025-03-01", got.Date.String())

	sent := conn.calls[0].request.(*structpb.Struct).AsMap()
	assert.Equal(t, "m1", sent["model_id"])
}

func mustStruct(t *testing.T, value map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(value)
	require.NoError(t, err)
	return s
}

func mustList(t *testing.T, value []any) *structpb.ListValue {
	t.Helper()
	l, err := structpb.NewList(value)
	require.NoError(t, err)
	return l
}
