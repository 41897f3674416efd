package invitationproto

import "github.com/dxos/dxos-sub075/net/rpc/rpcerr"

var (
	errGroup = rpcerr.Group(100)

	ErrUnknownInvitation = errGroup.New(1, "unknown invitation")
	ErrNotAuthenticated  = errGroup.New(2, "not authenticated")
	ErrInvitationClosed  = errGroup.New(3, "invitation is closed")
	ErrAdmitFailed       = errGroup.New(4, "admit failed")
)
