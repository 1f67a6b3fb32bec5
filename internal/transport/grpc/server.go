package grpcx

import (
	"context"

	"github.com/segmentio/encoding/json"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bcrosbie/evalboard/internal/domain"
	"github.com/bcrosbie/evalboard/internal/rpccontract"
	"github.com/bcrosbie/evalboard/internal/service"
)

type EvalRPCServer interface {
	GetHealth(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetSummary(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListDatasets(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	GetEvalData(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSeries(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListEvalModels(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	SetEvalModels(context.Context, *structpb.ListValue) (*structpb.ListValue, error)
	RecordResult(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type EvalHandler struct {
	evals *service.EvalService
}

func NewEvalHandler(evals *service.EvalService) *EvalHandler {
	return &EvalHandler{evals: evals}
}

func RegisterEvalServer(server *grpc.Server, handler EvalRPCServer) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: rpccontract.ServiceName,
		HandlerType: (*EvalRPCServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "GetHealth", Handler: unary(rpccontract.MethodGetHealth, newEmpty, EvalRPCServer.GetHealth)},
			{MethodName: "GetSummary", Handler: unary(rpccontract.MethodGetSummary, newEmpty, EvalRPCServer.GetSummary)},
			{MethodName: "ListDatasets", Handler: unary(rpccontract.MethodListDatasets, newEmpty, EvalRPCServer.ListDatasets)},
			{MethodName: "GetEvalData", Handler: unary(rpccontract.MethodGetEvalData, newStruct, EvalRPCServer.GetEvalData)},
			{MethodName: "GetSeries", Handler: unary(rpccontract.MethodGetSeries, newStruct, EvalRPCServer.GetSeries)},
			{MethodName: "ListEvalModels", Handler: unary(rpccontract.MethodListEvalModels, newEmpty, EvalRPCServer.ListEvalModels)},
			{MethodName: "SetEvalModels", Handler: unary(rpccontract.MethodSetEvalModels, newList, EvalRPCServer.SetEvalModels)},
			{MethodName: "RecordResult", Handler: unary(rpccontract.MethodRecordResult, newStruct, EvalRPCServer.RecordResult)},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "proto/evalboard/v1/evalboard.proto",
	}, handler)
}

func (h *EvalHandler) GetHealth(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(h.evals.Health())
}

func (h *EvalHandler) GetSummary(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	summary, err := h.evals.Summary(ctx)
	if err != nil {
		return nil, err
	}
	return toStruct(summary)
}

func (h *EvalHandler) ListDatasets(_ context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	return toList(domain.Catalog())
}

func (h *EvalHandler) GetEvalData(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := decodeStruct[service.EvalDataRequest](request)
	if err != nil {
		return nil, err
	}
	data, err := h.evals.GetEvalData(ctx, decoded)
	if err != nil {
		return nil, err
	}
	return toStruct(data)
}

func (h *EvalHandler) GetSeries(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := decodeStruct[service.SeriesRequest](request)
	if err != nil {
		return nil, err
	}
	result, err := h.evals.Series(ctx, decoded)
	if err != nil {
		return nil, err
	}
	return toStruct(result)
}

func (h *EvalHandler) ListEvalModels(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	models, err := h.evals.ListEvalModels(ctx)
	if err != nil {
		return nil, err
	}
	return toList(models)
}

func (h *EvalHandler) SetEvalModels(ctx context.Context, request *structpb.ListValue) (*structpb.ListValue, error) {
	payload, err := json.Marshal(request.AsSlice())
	if err != nil {
		return nil, domain.InvalidArgument("request payload could not be encoded")
	}
	models, err := h.evals.SetEvalModelsJSON(ctx, payload)
	if err != nil {
		return nil, err
	}
	return toList(models)
}

func (h *EvalHandler) RecordResult(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := decodeStruct[service.RecordResultRequest](request)
	if err != nil {
		return nil, err
	}
	recorded, err := h.evals.RecordResult(ctx, decoded)
	if err != nil {
		return nil, err
	}
	return toStruct(recorded)
}

func toStruct(value any) (*structpb.Struct, error) {
	serialized, err := json.Marshal(value)
	if err != nil {
		return nil, domain.Internal("failed to encode response", err)
	}
	decoded := map[string]any{}
	if err := json.Unmarshal(serialized, &decoded); err != nil {
		return nil, domain.Internal("failed to shape response object", err)
	}
	result, err := structpb.NewStruct(decoded)
	if err != nil {
		return nil, domain.Internal("failed to convert response to protobuf struct", err)
	}
	return result, nil
}

func toList(value any) (*structpb.ListValue, error) {
	serialized, err := json.Marshal(value)
	if err != nil {
		return nil, domain.Internal("failed to encode response list", err)
	}
	decoded := []any{}
	if err := json.Unmarshal(serialized, &decoded); err != nil {
		return nil, domain.Internal("failed to shape response list", err)
	}
	result, err := structpb.NewList(decoded)
	if err != nil {
		return nil, domain.Internal("failed to convert response to protobuf list", err)
	}
	return result, nil
}

func decodeStruct[T any](input *structpb.Struct) (T, error) {
	var out T
	if input == nil {
		return out, nil
	}
	serialized, err := json.Marshal(input.AsMap())
	if err != nil {
		return out, domain.InvalidArgument("request payload could not be encoded")
	}
	if err := json.Unmarshal(serialized, &out); err != nil {
		return out, domain.InvalidArgument("request payload shape is invalid")
	}
	return out, nil
}

func newEmpty() *emptypb.Empty     { return new(emptypb.Empty) }
func newStruct() *structpb.Struct  { return new(structpb.Struct) }
func newList() *structpb.ListValue { return new(structpb.ListValue) }

// unary adapts a typed handler to grpc's MethodHandler, running the
// interceptor chain when one is installed.
func unary[Req proto.Message, Resp any](
	method string,
	newRequest func() Req,
	call func(EvalRPCServer, context.Context, Req) (Resp, error),
) grpc.MethodHandler {
	return func(
		srv any,
		ctx context.Context,
		decoder func(any) error,
		interceptor grpc.UnaryServerInterceptor,
	) (any, error) {
		request := newRequest()
		if err := decoder(request); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(EvalRPCServer), ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(EvalRPCServer), ctx, req.(Req))
		}
		return interceptor(ctx, request, info, handler)
	}
}
