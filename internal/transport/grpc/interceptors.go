package grpcx

import (
	"context"
	"errors"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/bcrosbie/evalboard/internal/access"
	"github.com/bcrosbie/evalboard/internal/domain"
	"github.com/bcrosbie/evalboard/internal/rpccontract"
)

const (
	TokenHeader     = rpccontract.TokenHeader
	RequestIDHeader = rpccontract.RequestIDHeader
)

// Authorizer decides whether a token may call a method.
type Authorizer interface {
	Authorize(token string, write bool) (string, error)
}

type roleKey struct{}

// RoleFromContext returns the role attached by AuthUnaryInterceptor.
func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(roleKey{}).(string)
	return role
}

func RecoveryUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (response any, err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				log.WithFields(log.Fields{
					"method": info.FullMethod,
					"panic":  recovered,
				}).Errorf("panic recovered\n%s", string(debug.Stack()))
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

func AuthUnaryInterceptor(authorizer Authorizer) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if _, public := rpccontract.PublicMethods[info.FullMethod]; public || authorizer == nil {
			return handler(ctx, req)
		}
		_, isWrite := rpccontract.WriteMethods[info.FullMethod]
		role, err := authorizer.Authorize(extractToken(ctx), isWrite)
		if err != nil {
			return nil, mapError(err)
		}
		return handler(context.WithValue(ctx, roleKey{}, role), req)
	}
}

// KeyedLimiter keeps one token bucket per caller.
type KeyedLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewKeyedLimiter(perSecond float64, burst int) *KeyedLimiter {
	if burst < 1 {
		burst = 1
	}
	return &KeyedLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: map[string]*rate.Limiter{},
	}
}

func (l *KeyedLimiter) Allow(key string) bool {
	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow()
}

// RateLimitUnaryInterceptor rejects calls once the caller's bucket is
// empty. Callers are told apart by token, then by peer address. A nil
// limiter disables it.
func RateLimitUnaryInterceptor(limiter *KeyedLimiter) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if limiter != nil && !limiter.Allow(callerKey(ctx)) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

func callerKey(ctx context.Context) string {
	if token := extractToken(ctx); token != "" {
		return "token:" + token
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		host := p.Addr.String()
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		return "peer:" + host
	}
	return "anonymous"
}

func LoggingUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		started := time.Now()
		requestID := requestIDFrom(ctx)
		response, err := handler(ctx, req)
		entry := log.WithFields(log.Fields{
			"method":     info.FullMethod,
			"duration":   time.Since(started).String(),
			"code":       status.Code(err).String(),
			"request_id": requestID,
		})
		if err != nil && status.Code(err) == codes.Internal {
			entry.WithError(err).Error("grpc call failed")
		} else {
			entry.Info("grpc call")
		}
		return response, err
	}
}

func ErrorUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		response, err := handler(ctx, req)
		if err == nil {
			return response, nil
		}

		if status.Code(err) != codes.Unknown {
			return nil, err
		}

		return nil, mapError(err)
	}
}

func mapError(err error) error {
	var appError *domain.AppError
	if errors.As(err, &appError) {
		switch appError.Code {
		case domain.CodeInvalidArgument:
			return status.Error(codes.InvalidArgument, appError.Message)
		case domain.CodeNotFound:
			return status.Error(codes.NotFound, appError.Message)
		case domain.CodeConflict:
			return status.Error(codes.AlreadyExists, appError.Message)
		case domain.CodeUnauthenticated:
			return status.Error(codes.Unauthenticated, appError.Message)
		case domain.CodePermissionDenied:
			return status.Error(codes.PermissionDenied, appError.Message)
		case domain.CodeFailedPrecondition:
			return status.Error(codes.FailedPrecondition, appError.Message)
		case domain.CodeResourceExhausted:
			return status.Error(codes.ResourceExhausted, appError.Message)
		case domain.CodeUnavailable:
			return status.Error(codes.Unavailable, appError.Message)
		default:
			return status.Error(codes.Internal, appError.Message)
		}
	}

	return status.Error(codes.Internal, "internal server error")
}

func extractToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}

	token := strings.TrimSpace(first(md.Get(TokenHeader)))
	if token != "" {
		return token
	}
	return access.BearerToken(first(md.Get("authorization")))
}

func requestIDFrom(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if id := strings.TrimSpace(first(md.Get(RequestIDHeader))); id != "" {
			return id
		}
	}
	return uuid.NewString()
}

func first(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return items[0]
}
