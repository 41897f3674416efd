// Package mutation encodes typed scalar and object values into tagged mutations and applies them onto item state.
package mutation

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/slices"
)

var (
	ErrDecode          = errors.New("mutation decode error")
	ErrUnsupportedType = errors.New("unsupported value type")
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindNull
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a tagged value. Only the field matching Kind is meaningful.
type Value struct {
	Kind   Kind
	Bool   bool
	Int    int64
	Float  float64
	Str    string
	Bytes  []byte
	Object ObjectMutation
}

type KeyValue struct {
	Key   string
	Value Value
}

// ObjectMutation is an ordered list of key changes applied sequentially
type ObjectMutation []KeyValue

func Null() Value { return Value{Kind: KindNull} }

func Bool(v bool) Value { return Value{Kind: KindBool, Bool: v} }

func Int(v int64) Value { return Value{Kind: KindInt, Int: v} }

func Float(v float64) Value { return Value{Kind: KindFloat, Float: v} }

func String(v string) Value { return Value{Kind: KindString, Str: v} }

func Bytes(v []byte) Value { return Value{Kind: KindBytes, Bytes: slices.Clone(v)} }

func Object(m ObjectMutation) Value { return Value{Kind: KindObject, Object: m} }

// Encode converts a plain go value into a tagged value
func Encode(v any) (Value, error) {
	switch tv := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return tv, nil
	case bool:
		return Bool(tv), nil
	case int:
		return Int(int64(tv)), nil
	case int8:
		return Int(int64(tv)), nil
	case int16:
		return Int(int64(tv)), nil
	case int32:
		return Int(int64(tv)), nil
	case int64:
		return Int(tv), nil
	case uint:
		return encodeUint(uint64(tv))
	case uint8:
		return Int(int64(tv)), nil
	case uint16:
		return Int(int64(tv)), nil
	case uint32:
		return Int(int64(tv)), nil
	case uint64:
		return encodeUint(tv)
	case float32:
		return Float(float64(tv)), nil
	case float64:
		return Float(tv), nil
	case string:
		return String(tv), nil
	case []byte:
		return Bytes(tv), nil
	case map[string]any:
		m, err := MutationFromMap(tv)
		if err != nil {
			return Value{}, err
		}
		return Object(m), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

func encodeUint(v uint64) (Value, error) {
	if v > math.MaxInt64 {
		return Value{}, fmt.Errorf("%w: uint64 %d overflows int64", ErrUnsupportedType, v)
	}
	return Int(int64(v)), nil
}

// Decode converts a tagged value back into a plain go value
func Decode(v Value) (any, error) {
	switch v.Kind {
	case KindNull:
		return nil, nil
	case KindBool:
		return v.Bool, nil
	case KindInt:
		return v.Int, nil
	case KindFloat:
		return v.Float, nil
	case KindString:
		return v.Str, nil
	case KindBytes:
		return slices.Clone(v.Bytes), nil
	case KindObject:
		obj := make(map[string]any, len(v.Object))
		if err := ApplyMutation(obj, v.Object); err != nil {
			return nil, err
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("%w: untagged value", ErrDecode)
	}
}

// ApplyValue sets target[key] to the decoded value. Null deletes the key.
// Objects are built into a fresh map and then assigned, an existing nested object is never merged.
func ApplyValue(target map[string]any, key string, v Value) error {
	if v.Kind == KindNull {
		delete(target, key)
		return nil
	}
	dv, err := Decode(v)
	if err != nil {
		return fmt.Errorf("key %q: %w", key, err)
	}
	target[key] = dv
	return nil
}

// ApplyMutation applies the changes in order
func ApplyMutation(target map[string]any, m ObjectMutation) error {
	for _, kv := range m {
		if err := ApplyValue(target, kv.Key, kv.Value); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the mutation can be applied without touching any state
func Validate(m ObjectMutation) error {
	return ApplyMutation(make(map[string]any, len(m)), m)
}

// MutationFromMap builds a mutation with keys in sorted order so equal maps give equal bytes
func MutationFromMap(changes map[string]any) (ObjectMutation, error) {
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	m := make(ObjectMutation, 0, len(keys))
	for _, k := range keys {
		v, err := Encode(changes[k])
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		m = append(m, KeyValue{Key: k, Value: v})
	}
	return m, nil
}

// CloneState returns a deep copy of decoded state
func CloneState(state map[string]any) map[string]any {
	if state == nil {
		return nil
	}
	res := make(map[string]any, len(state))
	for k, v := range state {
		res[k] = cloneAny(v)
	}
	return res
}

func cloneAny(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return CloneState(tv)
	case []byte:
		return slices.Clone(tv)
	default:
		return v
	}
}
