package mutation

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// SignedBlock is the stored form of a feed block: an encoded FeedMessage and the feed key signature over it
type SignedBlock struct {
	Payload   []byte
	Signature []byte
}

const (
	blockPayload   protowire.Number = 1
	blockSignature protowire.Number = 2
)

// SignedPayload binds the payload to its position, a block can't be replayed under another feed or seq
func (sb SignedBlock) SignedPayload(feedKey string, seq uint64) []byte {
	b := make([]byte, 0, len(feedKey)+len(sb.Payload)+protowire.SizeVarint(seq)+protowire.SizeVarint(uint64(len(feedKey))))
	b = protowire.AppendString(b, feedKey)
	b = protowire.AppendVarint(b, seq)
	return append(b, sb.Payload...)
}

func (sb SignedBlock) Marshal() []byte {
	b := appendBytesField(nil, blockPayload, sb.Payload)
	return appendBytesField(b, blockSignature, sb.Signature)
}

// UnmarshalSignedBlock decodes stored block data, a block without a signature fails with ErrDecode
func UnmarshalSignedBlock(data []byte) (sb SignedBlock, err error) {
	err = readFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		var raw []byte
		switch num {
		case blockPayload:
			if raw, n, err = consumeBytes(num, typ, b); err == nil {
				sb.Payload = raw
			}
		case blockSignature:
			if raw, n, err = consumeBytes(num, typ, b); err == nil {
				sb.Signature = raw
			}
		}
		return
	})
	if err != nil {
		return SignedBlock{}, err
	}
	if len(sb.Signature) == 0 {
		return SignedBlock{}, fmt.Errorf("%w: block is not signed", ErrDecode)
	}
	return sb, nil
}
