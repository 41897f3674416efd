package peer

import (
	"context"
)

type contextKey uint

const (
	contextKeyPeerAddr contextKey = iota
	contextKeyTopic
)

// CtxPeerAddr returns peer address
func CtxPeerAddr(ctx context.Context) string {
	if p, ok := ctx.Value(contextKeyPeerAddr).(string); ok {
		return p
	}
	return ""
}

// CtxWithPeerAddr sets peer address to the context
func CtxWithPeerAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, contextKeyPeerAddr, addr)
}

// CtxTopic returns the swarm topic the connection was made for
func CtxTopic(ctx context.Context) string {
	if t, ok := ctx.Value(contextKeyTopic).(string); ok {
		return t
	}
	return ""
}

func CtxWithTopic(ctx context.Context, topic string) context.Context {
	return context.WithValue(ctx, contextKeyTopic, topic)
}
