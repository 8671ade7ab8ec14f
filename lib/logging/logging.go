package logging

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const (
	contextKeyLogger    contextKey = "logger"
	contextKeyRequestID contextKey = "request_id"
)

type ContextData struct {
	Logger *zap.Logger
	Debug  bool
}

func NewContextWithLogger(ctx context.Context, logger *zap.Logger, debug bool) context.Context {
	return context.WithValue(ctx, contextKeyLogger, ContextData{Logger: logger, Debug: debug})
}

func FromContext(ctx context.Context) *zap.Logger {
	cdata, ok := ctx.Value(contextKeyLogger).(ContextData)
	if !ok {
		return zap.L()
	}
	return cdata.Logger
}

func DataFromContext(ctx context.Context) ContextData {
	cdata, ok := ctx.Value(contextKeyLogger).(ContextData)
	if !ok {
		return ContextData{
			Logger: zap.L(),
		}
	}
	return cdata
}

// WithRequestID assigns a fresh request ID and attaches it to the context
// logger.
func WithRequestID(ctx context.Context) (context.Context, string) {
	requestID := uuid.New().String()
	cdata := DataFromContext(ctx)
	ctx = context.WithValue(ctx, contextKeyRequestID, requestID)
	return NewContextWithLogger(ctx, cdata.Logger.With(zap.String("request_id", requestID)), cdata.Debug), requestID
}

func RequestID(ctx context.Context) string {
	s, _ := ctx.Value(contextKeyRequestID).(string)
	return s
}
