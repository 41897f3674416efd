package metric

import (
	"context"

	"go.uber.org/zap"
)

func Method(val string) zap.Field {
	return zap.String("rpc", val)
}

func PartyKey(val string) zap.Field {
	return zap.String("partyKey", val)
}

func FeedKey(val string) zap.Field {
	return zap.String("feedKey", val)
}

func PeerAddr(val string) zap.Field {
	return zap.String("peer", val)
}

func InvitationId(val string) zap.Field {
	return zap.String("invitationId", val)
}

func (m *metric) RequestLog(ctx context.Context, fields ...zap.Field) {
	m.rpcLog.InfoCtx(ctx, "", fields...)
}
