package mutation

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dxos/dxos-sub075/echo/timeframe"
)

// MutationEnvelope is one change to one item, as stored in a feed block
type MutationEnvelope struct {
	ItemID    string
	ItemType  string
	Mutation  ObjectMutation
	Tombstone bool
	// Clock is a lamport clock stamped by the writer
	Clock uint64
}

// MaxClock is the largest envelope clock accepted by the decoder
const MaxClock = math.MaxInt64

type CredentialType uint8

const (
	CredentialUnknown CredentialType = iota
	CredentialPartyGenesis
	CredentialAdmitFeed
)

func (t CredentialType) String() string {
	switch t {
	case CredentialPartyGenesis:
		return "PartyGenesis"
	case CredentialAdmitFeed:
		return "AdmitFeed"
	default:
		return "Unknown"
	}
}

// Credential admits Subject feed into the party, Signature is made by Issuer over SignedPayload
type Credential struct {
	Type      CredentialType
	PartyKey  string
	Subject   string
	Issuer    string
	Signature []byte
}

func (c Credential) SignedPayload() []byte {
	payload := make([]byte, 0, len(c.PartyKey)+len(c.Subject)+1)
	payload = append(payload, c.PartyKey...)
	payload = append(payload, byte(c.Type))
	return append(payload, c.Subject...)
}

// FeedMessage is the payload of a feed block, exactly one of the fields is set
type FeedMessage struct {
	Envelope   *MutationEnvelope
	Credential *Credential
}

const (
	msgEnvelope   protowire.Number = 1
	msgCredential protowire.Number = 2

	envItemID    protowire.Number = 1
	envItemType  protowire.Number = 2
	envMutation  protowire.Number = 3
	envTombstone protowire.Number = 4
	envClock     protowire.Number = 5

	credType      protowire.Number = 1
	credPartyKey  protowire.Number = 2
	credSubject   protowire.Number = 3
	credIssuer    protowire.Number = 4
	credSignature protowire.Number = 5
)

func (m FeedMessage) Marshal() []byte {
	var b []byte
	if m.Envelope != nil {
		b = appendBytesField(b, msgEnvelope, m.Envelope.marshal())
	}
	if m.Credential != nil {
		b = appendBytesField(b, msgCredential, m.Credential.marshal())
	}
	return b
}

func (e *MutationEnvelope) marshal() (b []byte) {
	b = appendStringField(b, envItemID, e.ItemID)
	if e.ItemType != "" {
		b = appendStringField(b, envItemType, e.ItemType)
	}
	b = appendBytesField(b, envMutation, AppendObjectMutation(nil, e.Mutation))
	if e.Tombstone {
		b = appendVarintField(b, envTombstone, 1)
	}
	if e.Clock != 0 {
		b = appendVarintField(b, envClock, e.Clock)
	}
	return
}

func (c *Credential) marshal() (b []byte) {
	b = appendVarintField(b, credType, uint64(c.Type))
	b = appendStringField(b, credPartyKey, c.PartyKey)
	b = appendStringField(b, credSubject, c.Subject)
	b = appendStringField(b, credIssuer, c.Issuer)
	return appendBytesField(b, credSignature, c.Signature)
}

// UnmarshalFeedMessage decodes block data. All failures wrap ErrDecode.
func UnmarshalFeedMessage(data []byte) (m FeedMessage, err error) {
	err = readFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		var raw []byte
		switch num {
		case msgEnvelope:
			if raw, n, err = consumeBytes(num, typ, b); err != nil {
				return
			}
			m.Envelope = &MutationEnvelope{}
			err = m.Envelope.unmarshal(raw)
		case msgCredential:
			if raw, n, err = consumeBytes(num, typ, b); err != nil {
				return
			}
			m.Credential = &Credential{}
			err = m.Credential.unmarshal(raw)
		}
		return
	})
	if err != nil {
		return FeedMessage{}, err
	}
	if (m.Envelope == nil) == (m.Credential == nil) {
		return FeedMessage{}, fmt.Errorf("%w: feed message must carry exactly one payload", ErrDecode)
	}
	return
}

func (e *MutationEnvelope) unmarshal(data []byte) error {
	err := readFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		var (
			raw []byte
			u   uint64
		)
		switch num {
		case envItemID:
			if raw, n, err = consumeBytes(num, typ, b); err == nil {
				e.ItemID = string(raw)
			}
		case envItemType:
			if raw, n, err = consumeBytes(num, typ, b); err == nil {
				e.ItemType = string(raw)
			}
		case envMutation:
			if raw, n, err = consumeBytes(num, typ, b); err == nil {
				e.Mutation, err = UnmarshalObjectMutation(raw)
			}
		case envTombstone:
			if u, n, err = consumeVarint(num, typ, b); err == nil {
				e.Tombstone = protowire.DecodeBool(u)
			}
		case envClock:
			if u, n, err = consumeVarint(num, typ, b); err == nil {
				if u > MaxClock {
					err = fmt.Errorf("%w: clock %d is out of range", ErrDecode, u)
				}
				e.Clock = u
			}
		}
		return
	})
	if err != nil {
		return err
	}
	if e.ItemID == "" {
		return fmt.Errorf("%w: envelope without item id", ErrDecode)
	}
	return nil
}

func (c *Credential) unmarshal(data []byte) error {
	return readFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		var (
			raw []byte
			u   uint64
		)
		switch num {
		case credType:
			if u, n, err = consumeVarint(num, typ, b); err == nil {
				c.Type = CredentialType(u)
			}
		case credPartyKey:
			if raw, n, err = consumeBytes(num, typ, b); err == nil {
				c.PartyKey = string(raw)
			}
		case credSubject:
			if raw, n, err = consumeBytes(num, typ, b); err == nil {
				c.Subject = string(raw)
			}
		case credIssuer:
			if raw, n, err = consumeBytes(num, typ, b); err == nil {
				c.Issuer = string(raw)
			}
		case credSignature:
			if raw, n, err = consumeBytes(num, typ, b); err == nil {
				c.Signature = append([]byte{}, raw...)
			}
		}
		return
	})
}

type ItemSnapshot struct {
	ID    string
	Type  string
	State []byte
}

// Snapshot is a point in time compaction of a party
type Snapshot struct {
	PartyKey  string
	Timeframe timeframe.Timeframe
	Clock     uint64
	Items     []ItemSnapshot
	// Deleted holds ids of tombstoned items
	Deleted []string
}

const (
	snapPartyKey  protowire.Number = 1
	snapFrame     protowire.Number = 2
	snapItem      protowire.Number = 3
	snapClock     protowire.Number = 4
	snapDeleted   protowire.Number = 5
	frameKey      protowire.Number = 1
	frameSeq      protowire.Number = 2
	itemSnapID    protowire.Number = 1
	itemSnapType  protowire.Number = 2
	itemSnapState protowire.Number = 3
)

func (s Snapshot) Marshal() []byte {
	var b, sub []byte
	b = appendStringField(b, snapPartyKey, s.PartyKey)
	for _, f := range s.Timeframe.Frames() {
		sub = appendStringField(sub[:0], frameKey, f.Key)
		sub = appendVarintField(sub, frameSeq, f.Seq)
		b = appendBytesField(b, snapFrame, sub)
	}
	for _, it := range s.Items {
		sub = appendStringField(sub[:0], itemSnapID, it.ID)
		sub = appendStringField(sub, itemSnapType, it.Type)
		sub = appendBytesField(sub, itemSnapState, it.State)
		b = appendBytesField(b, snapItem, sub)
	}
	if s.Clock != 0 {
		b = appendVarintField(b, snapClock, s.Clock)
	}
	for _, id := range s.Deleted {
		b = appendStringField(b, snapDeleted, id)
	}
	return b
}

func UnmarshalSnapshot(data []byte) (s Snapshot, err error) {
	var frames []timeframe.Frame
	err = readFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		var raw []byte
		switch num {
		case snapPartyKey:
			if raw, n, err = consumeBytes(num, typ, b); err == nil {
				s.PartyKey = string(raw)
			}
		case snapFrame:
			if raw, n, err = consumeBytes(num, typ, b); err != nil {
				return
			}
			var f timeframe.Frame
			if f, err = unmarshalFrame(raw); err == nil {
				frames = append(frames, f)
			}
		case snapItem:
			if raw, n, err = consumeBytes(num, typ, b); err != nil {
				return
			}
			var it ItemSnapshot
			if it, err = unmarshalItemSnapshot(raw); err == nil {
				s.Items = append(s.Items, it)
			}
		case snapClock:
			s.Clock, n, err = consumeVarint(num, typ, b)
		case snapDeleted:
			if raw, n, err = consumeBytes(num, typ, b); err == nil {
				s.Deleted = append(s.Deleted, string(raw))
			}
		}
		return
	})
	if err != nil {
		return Snapshot{}, err
	}
	s.Timeframe = timeframe.New(frames...)
	return
}

func unmarshalFrame(data []byte) (f timeframe.Frame, err error) {
	err = readFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		var raw []byte
		switch num {
		case frameKey:
			if raw, n, err = consumeBytes(num, typ, b); err == nil {
				f.Key = string(raw)
			}
		case frameSeq:
			f.Seq, n, err = consumeVarint(num, typ, b)
		}
		return
	})
	return
}

func unmarshalItemSnapshot(data []byte) (it ItemSnapshot, err error) {
	err = readFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		var raw []byte
		switch num {
		case itemSnapID:
			if raw, n, err = consumeBytes(num, typ, b); err == nil {
				it.ID = string(raw)
			}
		case itemSnapType:
			if raw, n, err = consumeBytes(num, typ, b); err == nil {
				it.Type = string(raw)
			}
		case itemSnapState:
			if raw, n, err = consumeBytes(num, typ, b); err == nil {
				it.State = append([]byte{}, raw...)
			}
		}
		return
	})
	return
}
