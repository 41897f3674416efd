package mutation

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// field numbers of the Value message
const (
	valueNull   protowire.Number = 1
	valueBool   protowire.Number = 2
	valueInt    protowire.Number = 3
	valueFloat  protowire.Number = 4
	valueString protowire.Number = 5
	valueBytes  protowire.Number = 6
	valueObject protowire.Number = 7
)

const (
	kvKey   protowire.Number = 1
	kvValue protowire.Number = 2

	objectEntry protowire.Number = 1
)

type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error)

// readFields walks a protobuf message, fields the callback doesn't consume (n == 0) are skipped
func readFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return wireError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return wireError(m)
		}
		b = b[m:]
	}
	return nil
}

func wireError(n int) error {
	return fmt.Errorf("%w: %v", ErrDecode, protowire.ParseError(n))
}

func expectType(num protowire.Number, got, want protowire.Type) error {
	if got != want {
		return fmt.Errorf("%w: field %d has wire type %d, want %d", ErrDecode, num, got, want)
	}
	return nil
}

func consumeVarint(num protowire.Number, typ protowire.Type, b []byte) (uint64, int, error) {
	if err := expectType(num, typ, protowire.VarintType); err != nil {
		return 0, 0, err
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, wireError(n)
	}
	return v, n, nil
}

func consumeBytes(num protowire.Number, typ protowire.Type, b []byte) ([]byte, int, error) {
	if err := expectType(num, typ, protowire.BytesType); err != nil {
		return nil, 0, err
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, wireError(n)
	}
	return v, n, nil
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// AppendValue appends the Value message body
func AppendValue(b []byte, v Value) []byte {
	switch v.Kind {
	case KindNull:
		b = appendVarintField(b, valueNull, 1)
	case KindBool:
		b = appendVarintField(b, valueBool, protowire.EncodeBool(v.Bool))
	case KindInt:
		b = appendVarintField(b, valueInt, protowire.EncodeZigZag(v.Int))
	case KindFloat:
		b = protowire.AppendTag(b, valueFloat, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v.Float))
	case KindString:
		b = appendStringField(b, valueString, v.Str)
	case KindBytes:
		b = appendBytesField(b, valueBytes, v.Bytes)
	case KindObject:
		b = appendBytesField(b, valueObject, AppendObjectMutation(nil, v.Object))
	}
	return b
}

// AppendObjectMutation appends the ObjectMutation message body
func AppendObjectMutation(b []byte, m ObjectMutation) []byte {
	var kv []byte
	for _, e := range m {
		kv = appendStringField(kv[:0], kvKey, e.Key)
		kv = appendBytesField(kv, kvValue, AppendValue(nil, e.Value))
		b = appendBytesField(b, objectEntry, kv)
	}
	return b
}

func MarshalObjectMutation(m ObjectMutation) []byte {
	return AppendObjectMutation(nil, m)
}

// UnmarshalValue decodes a Value message. A message without a known tag gives KindUnknown, not an error.
func UnmarshalValue(b []byte) (v Value, err error) {
	err = readFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		var u uint64
		switch num {
		case valueNull:
			if _, n, err = consumeVarint(num, typ, b); err == nil {
				v = Value{Kind: KindNull}
			}
		case valueBool:
			if u, n, err = consumeVarint(num, typ, b); err == nil {
				v = Value{Kind: KindBool, Bool: protowire.DecodeBool(u)}
			}
		case valueInt:
			if u, n, err = consumeVarint(num, typ, b); err == nil {
				v = Value{Kind: KindInt, Int: protowire.DecodeZigZag(u)}
			}
		case valueFloat:
			if err = expectType(num, typ, protowire.Fixed64Type); err != nil {
				return
			}
			if u, n = protowire.ConsumeFixed64(b); n < 0 {
				return 0, wireError(n)
			}
			v = Value{Kind: KindFloat, Float: math.Float64frombits(u)}
		case valueString:
			var raw []byte
			if raw, n, err = consumeBytes(num, typ, b); err == nil {
				v = Value{Kind: KindString, Str: string(raw)}
			}
		case valueBytes:
			var raw []byte
			if raw, n, err = consumeBytes(num, typ, b); err == nil {
				v = Value{Kind: KindBytes, Bytes: append([]byte{}, raw...)}
			}
		case valueObject:
			var raw []byte
			if raw, n, err = consumeBytes(num, typ, b); err != nil {
				return
			}
			var obj ObjectMutation
			if obj, err = UnmarshalObjectMutation(raw); err == nil {
				v = Value{Kind: KindObject, Object: obj}
			}
		}
		return
	})
	return
}

func UnmarshalObjectMutation(b []byte) (m ObjectMutation, err error) {
	err = readFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		if num != objectEntry {
			return
		}
		var raw []byte
		if raw, n, err = consumeBytes(num, typ, b); err != nil {
			return
		}
		var kv KeyValue
		if kv, err = unmarshalKeyValue(raw); err != nil {
			return
		}
		m = append(m, kv)
		return
	})
	return
}

func unmarshalKeyValue(b []byte) (kv KeyValue, err error) {
	err = readFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (n int, err error) {
		var raw []byte
		switch num {
		case kvKey:
			if raw, n, err = consumeBytes(num, typ, b); err == nil {
				kv.Key = string(raw)
			}
		case kvValue:
			if raw, n, err = consumeBytes(num, typ, b); err == nil {
				kv.Value, err = UnmarshalValue(raw)
			}
		}
		return
	})
	return
}
