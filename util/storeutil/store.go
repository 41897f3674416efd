// Package storeutil holds any-store value helpers shared by the echo stores.
package storeutil

import (
	"bytes"

	"github.com/anyproto/any-store/anyenc"
)

// StringsValue builds an array value from ss on the arena
func StringsValue(ss []string, arena *anyenc.Arena) *anyenc.Value {
	arr := arena.NewArray()
	for i := range ss {
		arr.SetArrayItem(i, arena.NewString(ss[i]))
	}
	return arr
}

// Strings reads an array of strings, a missing key gives an empty slice
func Strings(val *anyenc.Value, key string) []string {
	items := val.GetArray(key)
	ss := make([]string, len(items))
	for i, item := range items {
		ss[i] = item.GetString()
	}
	return ss
}

// CopyBytes returns a copy of the binary value, parsed values are backed by reusable buffers
func CopyBytes(val *anyenc.Value, key string) []byte {
	return bytes.Clone(val.GetBytes(key))
}

// Uint64 reads a non-negative int value
func Uint64(val *anyenc.Value, key string) uint64 {
	if i := val.GetInt(key); i > 0 {
		return uint64(i)
	}
	return 0
}
