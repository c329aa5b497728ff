// Package context carries request-scoped observability identifiers.
package context

import (
	"context"
	"strings"
)

type requestIDKey struct{}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

type clientKey struct{}

// Client describes the caller of an inbound request.
type Client struct {
	IPAddress string
	UserAgent string
}

func WithClient(ctx context.Context, client Client) context.Context {
	client.IPAddress = strings.TrimSpace(client.IPAddress)
	client.UserAgent = strings.TrimSpace(client.UserAgent)
	return context.WithValue(ctx, clientKey{}, client)
}

func ClientFromContext(ctx context.Context) Client {
	if ctx == nil {
		return Client{}
	}
	client, _ := ctx.Value(clientKey{}).(Client)
	return client
}
