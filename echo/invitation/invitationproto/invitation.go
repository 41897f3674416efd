// Package invitationproto holds messages and the drpc service of the invitation handshake.
// Messages follow protos/invitation.proto and are encoded with protowire.
package invitationproto

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformed = errors.New("malformed invitation message")

type AuthMethod int32

const (
	AuthMethod_None         AuthMethod = 0
	AuthMethod_SharedSecret AuthMethod = 1
)

func (m AuthMethod) String() string {
	switch m {
	case AuthMethod_None:
		return "None"
	case AuthMethod_SharedSecret:
		return "SharedSecret"
	}
	return fmt.Sprintf("AuthMethod(%d)", int32(m))
}

type AuthStatus int32

const (
	AuthStatus_Ok              AuthStatus = 0
	AuthStatus_InvalidSecret   AuthStatus = 1
	AuthStatus_TooManyAttempts AuthStatus = 2
)

func (s AuthStatus) String() string {
	switch s {
	case AuthStatus_Ok:
		return "Ok"
	case AuthStatus_InvalidSecret:
		return "InvalidSecret"
	case AuthStatus_TooManyAttempts:
		return "TooManyAttempts"
	}
	return fmt.Sprintf("AuthStatus(%d)", int32(s))
}

type IntroduceRequest struct {
	InvitationId string
}

func (m *IntroduceRequest) Marshal() ([]byte, error) {
	return appendString(nil, 1, m.InvitationId), nil
}

func (m *IntroduceRequest) Unmarshal(b []byte) error {
	return readFields(b, func(num protowire.Number, v []byte, _ uint64) {
		if num == 1 {
			m.InvitationId = string(v)
		}
	})
}

type IntroduceResponse struct {
	AuthMethod AuthMethod
	PartyKey   string
}

func (m *IntroduceResponse) Marshal() ([]byte, error) {
	b := appendVarint(nil, 1, uint64(m.AuthMethod))
	return appendString(b, 2, m.PartyKey), nil
}

func (m *IntroduceResponse) Unmarshal(b []byte) error {
	return readFields(b, func(num protowire.Number, v []byte, x uint64) {
		switch num {
		case 1:
			m.AuthMethod = AuthMethod(x)
		case 2:
			m.PartyKey = string(v)
		}
	})
}

type AuthenticateRequest struct {
	Secret []byte
}

func (m *AuthenticateRequest) Marshal() ([]byte, error) {
	if len(m.Secret) == 0 {
		return nil, nil
	}
	b := protowire.AppendTag(nil, 1, protowire.BytesType)
	return protowire.AppendBytes(b, m.Secret), nil
}

func (m *AuthenticateRequest) Unmarshal(b []byte) error {
	return readFields(b, func(num protowire.Number, v []byte, _ uint64) {
		if num == 1 {
			m.Secret = append([]byte(nil), v...)
		}
	})
}

type AuthenticateResponse struct {
	Status AuthStatus
}

func (m *AuthenticateResponse) Marshal() ([]byte, error) {
	return appendVarint(nil, 1, uint64(m.Status)), nil
}

func (m *AuthenticateResponse) Unmarshal(b []byte) error {
	return readFields(b, func(num protowire.Number, _ []byte, x uint64) {
		if num == 1 {
			m.Status = AuthStatus(x)
		}
	})
}

type AdmitRequest struct {
	FeedKey string
}

func (m *AdmitRequest) Marshal() ([]byte, error) {
	return appendString(nil, 1, m.FeedKey), nil
}

func (m *AdmitRequest) Unmarshal(b []byte) error {
	return readFields(b, func(num protowire.Number, v []byte, _ uint64) {
		if num == 1 {
			m.FeedKey = string(v)
		}
	})
}

type AdmitResponse struct {
	PartyKey       string
	GenesisFeedKey string
	FeedKeys       []string
}

func (m *AdmitResponse) Marshal() ([]byte, error) {
	b := appendString(nil, 1, m.PartyKey)
	b = appendString(b, 2, m.GenesisFeedKey)
	for _, k := range m.FeedKeys {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, k)
	}
	return b, nil
}

func (m *AdmitResponse) Unmarshal(b []byte) error {
	return readFields(b, func(num protowire.Number, v []byte, _ uint64) {
		switch num {
		case 1:
			m.PartyKey = string(v)
		case 2:
			m.GenesisFeedKey = string(v)
		case 3:
			m.FeedKeys = append(m.FeedKeys, string(v))
		}
	})
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func readFields(b []byte, fn func(num protowire.Number, v []byte, x uint64)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			var x uint64
			if x, n = protowire.ConsumeVarint(b); n >= 0 {
				fn(num, nil, x)
			}
		case protowire.BytesType:
			var v []byte
			if v, n = protowire.ConsumeBytes(b); n >= 0 {
				fn(num, v, 0)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}
