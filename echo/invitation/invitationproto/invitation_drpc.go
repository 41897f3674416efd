package invitationproto

import (
	"context"
	"fmt"

	"storj.io/drpc"
)

type marshaler interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

type drpcEncoding struct{}

func (drpcEncoding) Marshal(msg drpc.Message) ([]byte, error) {
	m, ok := msg.(marshaler)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected type %T", ErrMalformed, msg)
	}
	return m.Marshal()
}

func (drpcEncoding) Unmarshal(buf []byte, msg drpc.Message) error {
	m, ok := msg.(marshaler)
	if !ok {
		return fmt.Errorf("%w: unexpected type %T", ErrMalformed, msg)
	}
	return m.Unmarshal(buf)
}

const (
	rpcIntroduce    = "/invitation.InvitationHost/Introduce"
	rpcAuthenticate = "/invitation.InvitationHost/Authenticate"
	rpcAdmit        = "/invitation.InvitationHost/Admit"
)

type DRPCInvitationHostClient interface {
	DRPCConn() drpc.Conn

	Introduce(ctx context.Context, in *IntroduceRequest) (*IntroduceResponse, error)
	Authenticate(ctx context.Context, in *AuthenticateRequest) (*AuthenticateResponse, error)
	Admit(ctx context.Context, in *AdmitRequest) (*AdmitResponse, error)
}

type drpcInvitationHostClient struct {
	cc drpc.Conn
}

func NewDRPCInvitationHostClient(cc drpc.Conn) DRPCInvitationHostClient {
	return &drpcInvitationHostClient{cc}
}

func (c *drpcInvitationHostClient) DRPCConn() drpc.Conn { return c.cc }

func (c *drpcInvitationHostClient) Introduce(ctx context.Context, in *IntroduceRequest) (*IntroduceResponse, error) {
	out := new(IntroduceResponse)
	if err := c.cc.Invoke(ctx, rpcIntroduce, drpcEncoding{}, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *drpcInvitationHostClient) Authenticate(ctx context.Context, in *AuthenticateRequest) (*AuthenticateResponse, error) {
	out := new(AuthenticateResponse)
	if err := c.cc.Invoke(ctx, rpcAuthenticate, drpcEncoding{}, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *drpcInvitationHostClient) Admit(ctx context.Context, in *AdmitRequest) (*AdmitResponse, error) {
	out := new(AdmitResponse)
	if err := c.cc.Invoke(ctx, rpcAdmit, drpcEncoding{}, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

type DRPCInvitationHostServer interface {
	Introduce(context.Context, *IntroduceRequest) (*IntroduceResponse, error)
	Authenticate(context.Context, *AuthenticateRequest) (*AuthenticateResponse, error)
	Admit(context.Context, *AdmitRequest) (*AdmitResponse, error)
}

type DRPCInvitationHostDescription struct{}

func (DRPCInvitationHostDescription) NumMethods() int { return 3 }

func (DRPCInvitationHostDescription) Method(n int) (string, drpc.Encoding, drpc.Receiver, interface{}, bool) {
	switch n {
	case 0:
		return rpcIntroduce, drpcEncoding{},
			func(srv interface{}, ctx context.Context, in1, in2 interface{}) (drpc.Message, error) {
				return srv.(DRPCInvitationHostServer).Introduce(ctx, in1.(*IntroduceRequest))
			}, DRPCInvitationHostServer.Introduce, true
	case 1:
		return rpcAuthenticate, drpcEncoding{},
			func(srv interface{}, ctx context.Context, in1, in2 interface{}) (drpc.Message, error) {
				return srv.(DRPCInvitationHostServer).Authenticate(ctx, in1.(*AuthenticateRequest))
			}, DRPCInvitationHostServer.Authenticate, true
	case 2:
		return rpcAdmit, drpcEncoding{},
			func(srv interface{}, ctx context.Context, in1, in2 interface{}) (drpc.Message, error) {
				return srv.(DRPCInvitationHostServer).Admit(ctx, in1.(*AdmitRequest))
			}, DRPCInvitationHostServer.Admit, true
	default:
		return "", nil, nil, nil, false
	}
}

func DRPCRegisterInvitationHost(mux drpc.Mux, impl DRPCInvitationHostServer) error {
	return mux.Register(impl, DRPCInvitationHostDescription{})
}
