package replicator

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dxos/dxos-sub075/echo/feedstore"
	"github.com/dxos/dxos-sub075/echo/timeframe"
)

const (
	msgTypeAdvertise byte = 1
	msgTypeRequest   byte = 2
	msgTypeBlock     byte = 3
)

const (
	advertiseFrame protowire.Number = 1

	frameKey protowire.Number = 1
	frameSeq protowire.Number = 2

	requestFeed protowire.Number = 1
	requestFrom protowire.Number = 2
	requestTo   protowire.Number = 3

	blockFeed protowire.Number = 1
	blockSeq  protowire.Number = 2
	blockData protowire.Number = 3
)

var ErrMalformedMessage = errors.New("malformed replicator message")

// request asks for the blocks from..to of the feed, bounds included
type request struct {
	FeedKey  string
	From, To uint64
}

type message struct {
	Type      byte
	Timeframe timeframe.Timeframe
	Request   request
	Block     feedstore.Block
}

func (m message) marshal() []byte {
	var b []byte
	switch m.Type {
	case msgTypeAdvertise:
		for _, f := range m.Timeframe.Frames() {
			var sub []byte
			sub = protowire.AppendTag(sub, frameKey, protowire.BytesType)
			sub = protowire.AppendString(sub, f.Key)
			sub = protowire.AppendTag(sub, frameSeq, protowire.VarintType)
			sub = protowire.AppendVarint(sub, f.Seq)
			b = protowire.AppendTag(b, advertiseFrame, protowire.BytesType)
			b = protowire.AppendBytes(b, sub)
		}
	case msgTypeRequest:
		b = protowire.AppendTag(b, requestFeed, protowire.BytesType)
		b = protowire.AppendString(b, m.Request.FeedKey)
		b = protowire.AppendTag(b, requestFrom, protowire.VarintType)
		b = protowire.AppendVarint(b, m.Request.From)
		b = protowire.AppendTag(b, requestTo, protowire.VarintType)
		b = protowire.AppendVarint(b, m.Request.To)
	case msgTypeBlock:
		b = protowire.AppendTag(b, blockFeed, protowire.BytesType)
		b = protowire.AppendString(b, m.Block.FeedKey)
		b = protowire.AppendTag(b, blockSeq, protowire.VarintType)
		b = protowire.AppendVarint(b, m.Block.Seq)
		b = protowire.AppendTag(b, blockData, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Block.Data)
	}
	return b
}

func unmarshalMessage(tp byte, data []byte) (m message, err error) {
	m.Type = tp
	switch tp {
	case msgTypeAdvertise:
		var frames []timeframe.Frame
		err = walk(data, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
			if num != advertiseFrame || typ != protowire.BytesType {
				return nil
			}
			var f timeframe.Frame
			if ferr := walk(v, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
				switch num {
				case frameKey:
					f.Key = string(v)
				case frameSeq:
					f.Seq = x
				}
				return nil
			}); ferr != nil {
				return ferr
			}
			frames = append(frames, f)
			return nil
		})
		m.Timeframe = timeframe.New(frames...)
	case msgTypeRequest:
		err = walk(data, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
			switch num {
			case requestFeed:
				m.Request.FeedKey = string(v)
			case requestFrom:
				m.Request.From = x
			case requestTo:
				m.Request.To = x
			}
			return nil
		})
	case msgTypeBlock:
		err = walk(data, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
			switch num {
			case blockFeed:
				m.Block.FeedKey = string(v)
			case blockSeq:
				m.Block.Seq = x
			case blockData:
				m.Block.Data = append([]byte(nil), v...)
			}
			return nil
		})
	default:
		err = fmt.Errorf("%w: unknown type %d", ErrMalformedMessage, tp)
	}
	return
}

// walk calls fn for every varint and bytes field, other wire types are skipped
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrMalformedMessage, protowire.ParseError(n))
		}
		b = b[n:]
		var (
			v []byte
			x uint64
		)
		switch typ {
		case protowire.VarintType:
			x, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrMalformedMessage, protowire.ParseError(n))
		}
		b = b[n:]
		if typ == protowire.VarintType || typ == protowire.BytesType {
			if err := fn(num, typ, v, x); err != nil {
				return err
			}
		}
	}
	return nil
}
