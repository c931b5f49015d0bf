package audit

import "context"

// ClientInfo describes the client behind an auth operation
type ClientInfo struct {
	UserAgent string
	IPAddress string
	RequestID string
}

type clientInfoKey struct{}

// WithClientInfo attaches client details to ctx
func WithClientInfo(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, info)
}

// ClientInfoFrom returns the client details attached to ctx, if any
func ClientInfoFrom(ctx context.Context) ClientInfo {
	if info, ok := ctx.Value(clientInfoKey{}).(ClientInfo); ok {
		return info
	}
	return ClientInfo{}
}
