// Package client talks to the evalboard gRPC service with structpb payloads.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/segmentio/encoding/json"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bcrosbie/evalboard/internal/clientconfig"
	"github.com/bcrosbie/evalboard/internal/domain"
	"github.com/bcrosbie/evalboard/internal/rpccontract"
	"github.com/bcrosbie/evalboard/internal/series"
	"github.com/bcrosbie/evalboard/internal/service"
)

// Invoker is the slice of grpc.ClientConn the client needs.
type Invoker interface {
	Invoke(ctx context.Context, method string, args any, reply any, opts ...grpc.CallOption) error
}

type Client struct {
	conn          Invoker
	closer        func() error
	token         string
	requestTO     time.Duration
	retryAttempts int
	retryDelay    time.Duration
}

func New(cfg clientconfig.Config, token string) (*Client, error) {
	cred := grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}))
	if cfg.GRPCInsecure || strings.HasPrefix(cfg.GRPCAddr, "127.0.0.1:") || strings.HasPrefix(cfg.GRPCAddr, "localhost:") {
		cred = grpc.WithTransportCredentials(insecure.NewCredentials())
	}

	conn, err := grpc.NewClient(
		cfg.GRPCAddr,
		cred,
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                25 * time.Second,
			Timeout:             6 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.GRPCAddr, err)
	}
	conn.Connect()

	c := NewWithInvoker(conn, token, cfg.RequestTimeout, cfg.RetryAttempts)
	c.closer = conn.Close
	return c, nil
}

// NewWithInvoker builds a client over an existing connection.
func NewWithInvoker(conn Invoker, token string, requestTimeout time.Duration, retryAttempts int) *Client {
	if requestTimeout <= 0 {
		requestTimeout = clientconfig.Default().RequestTimeout
	}
	return &Client{
		conn:          conn,
		token:         strings.TrimSpace(token),
		requestTO:     requestTimeout,
		retryAttempts: retryAttempts,
		retryDelay:    250 * time.Millisecond,
	}
}

func (c *Client) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	return c.closer()
}

func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	response := &structpb.Struct{}
	if err := c.invoke(ctx, "", rpccontract.MethodGetHealth, &emptypb.Empty{}, response); err != nil {
		return nil, err
	}
	return response.AsMap(), nil
}

func (c *Client) Summary(ctx context.Context) (domain.Summary, error) {
	var summary domain.Summary
	response := &structpb.Struct{}
	if err := c.invoke(ctx, "", rpccontract.MethodGetSummary, &emptypb.Empty{}, response); err != nil {
		return summary, err
	}
	return summary, reshape(response.AsMap(), &summary)
}

func (c *Client) ListDatasets(ctx context.Context) ([]domain.EvalDataset, error) {
	var datasets []domain.EvalDataset
	response := &structpb.ListValue{}
	if err := c.invoke(ctx, "", rpccontract.MethodListDatasets, &emptypb.Empty{}, response); err != nil {
		return nil, err
	}
	return datasets, reshape(response.AsSlice(), &datasets)
}

// GetEvalData fetches results grouped by date. An empty filter returns
// everything. It is attempted once; failures go back to the caller.
func (c *Client) GetEvalData(ctx context.Context, accessToken string, filter service.EvalDataRequest) (domain.EvalDataByDate, error) {
	request, err := toStruct(filter)
	if err != nil {
		return nil, err
	}
	response := &structpb.Struct{}
	if err := c.fetch(ctx, accessToken, rpccontract.MethodGetEvalData, request, response); err != nil {
		return nil, err
	}
	data := domain.EvalDataByDate{}
	return data, reshape(response.AsMap(), &data)
}

func (c *Client) GetSeries(ctx context.Context, accessToken string, filter service.SeriesRequest) (series.Result, error) {
	var result series.Result
	request, err := toStruct(filter)
	if err != nil {
		return result, err
	}
	response := &structpb.Struct{}
	if err := c.invoke(ctx, accessToken, rpccontract.MethodGetSeries, request, response); err != nil {
		return result, err
	}
	return result, reshape(response.AsMap(), &result)
}

// ListEvalModels is attempted once; failures go back to the caller.
func (c *Client) ListEvalModels(ctx context.Context, accessToken string) ([]domain.ModelDatasetConfig, error) {
	var models []domain.ModelDatasetConfig
	response := &structpb.ListValue{}
	if err := c.fetch(ctx, accessToken, rpccontract.MethodListEvalModels, &emptypb.Empty{}, response); err != nil {
		return nil, err
	}
	return models, reshape(response.AsSlice(), &models)
}

// SetEvalModels sends the full selection snapshot.
func (c *Client) SetEvalModels(ctx context.Context, accessToken string, rows []domain.ModelDatasetUpdate) error {
	items := make([]any, 0, len(rows))
	for _, row := range rows {
		keys := make([]any, 0, len(row.DatasetKeys))
		for _, key := range row.DatasetKeys {
			keys = append(keys, key)
		}
		items = append(items, map[string]any{
			"model_id":     row.ModelID,
			"dataset_keys": keys,
		})
	}
	request, err := structpb.NewList(items)
	if err != nil {
		return fmt.Errorf("encode eval model snapshot: %w", err)
	}
	return c.invoke(ctx, accessToken, rpccontract.MethodSetEvalModels, request, &structpb.ListValue{})
}

func (c *Client) RecordResult(ctx context.Context, request service.RecordResultRequest) (domain.TestResult, error) {
	var recorded domain.TestResult
	payload, err := toStruct(request)
	if err != nil {
		return recorded, err
	}
	response := &structpb.Struct{}
	if err := c.invoke(ctx, "", rpccontract.MethodRecordResult, payload, response); err != nil {
		return recorded, err
	}
	return recorded, reshape(response.AsMap(), &recorded)
}

func (c *Client) invoke(ctx context.Context, accessToken, method string, request, response proto.Message) error {
	return c.call(ctx, accessToken, method, request, response, c.retryAttempts)
}

// fetch serves the selection and panel reads, which are never retried.
func (c *Client) fetch(ctx context.Context, accessToken, method string, request, response proto.Message) error {
	return c.call(ctx, accessToken, method, request, response, 1)
}

func (c *Client) call(ctx context.Context, accessToken, method string, request, response proto.Message, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}
	return retry.Do(
		func() error {
			callCtx, cancel := context.WithTimeout(c.withAuth(ctx, accessToken), c.requestTO)
			defer cancel()
			proto.Reset(response)
			return c.conn.Invoke(callCtx, method, request, response)
		},
		retry.Attempts(uint(attempts)),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isRetryable),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
}

func (c *Client) withAuth(ctx context.Context, accessToken string) context.Context {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		token = c.token
	}
	if token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, rpccontract.TokenHeader, token)
}

func isRetryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func toStruct(value any) (*structpb.Struct, error) {
	decoded := map[string]any{}
	if err := reshape(value, &decoded); err != nil {
		return nil, err
	}
	return structpb.NewStruct(decoded)
}

// reshape converts between loosely typed protobuf values and domain types
// through their JSON form.
func reshape(in any, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
