// Package rpcerr gives sentinel errors numeric codes that survive a drpc round trip.
// Each rpc service owns a Group, a base added to its local codes.
package rpcerr

import (
	"errors"
	"fmt"
	"sync"

	"storj.io/drpc/drpcerr"
)

var (
	mu       sync.RWMutex
	sentinel = make(map[uint64]error)
)

// Group is the code base of one rpc service
type Group uint64

// New registers a sentinel error under the group. Codes clash across groups only by misconfiguration,
// a clash panics at init.
func (g Group) New(code uint64, text string) error {
	full := uint64(g) + code
	mu.Lock()
	defer mu.Unlock()
	if prev, ok := sentinel[full]; ok {
		panic(fmt.Sprintf("rpcerr: code %d is taken by %q", full, prev))
	}
	err := drpcerr.WithCode(errors.New(text), full)
	sentinel[full] = err
	return err
}

// Code returns the wire code of err, zero for uncoded errors
func Code(err error) uint64 {
	return drpcerr.Code(err)
}

// Lookup returns the sentinel registered under code or nil
func Lookup(code uint64) error {
	mu.RLock()
	defer mu.RUnlock()
	return sentinel[code]
}

// remoteError carries a code this side has no sentinel for
type remoteError struct {
	code  uint64
	cause error
}

func (e remoteError) Error() string {
	return fmt.Sprintf("remote error %d: %v", e.code, e.cause)
}

func (e remoteError) Code() uint64 { return e.code }

func (e remoteError) Unwrap() error { return e.cause }

// FromWire maps an error returned by a drpc call to the local sentinel with the same code,
// so callers can match it with errors.Is. Uncoded errors are returned as is.
func FromWire(err error) error {
	code := drpcerr.Code(err)
	if code == 0 {
		return err
	}
	if s := Lookup(code); s != nil {
		return s
	}
	return remoteError{code: code, cause: err}
}
