// Package timeframe implements an immutable vector clock over feed keys.
//
// A frame maps a feed key to the highest contiguous sequence number covered.
// Sequence numbers start at 1, so {A:5} covers the first five blocks of A and
// an absent key is equivalent to 0.
package timeframe

import (
	"strconv"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Frame struct {
	Key string
	Seq uint64
}

type Timeframe struct {
	frames map[string]uint64
}

// New builds a timeframe from pairs, duplicated keys keep the max seq. Zero seqs are not stored.
func New(frames ...Frame) Timeframe {
	tf := Timeframe{}
	for _, f := range frames {
		if f.Seq == 0 {
			continue
		}
		if tf.frames == nil {
			tf.frames = make(map[string]uint64, len(frames))
		}
		if cur := tf.frames[f.Key]; f.Seq > cur {
			tf.frames[f.Key] = f.Seq
		}
	}
	return tf
}

func FromMap(m map[string]uint64) Timeframe {
	frames := make([]Frame, 0, len(m))
	for k, v := range m {
		frames = append(frames, Frame{Key: k, Seq: v})
	}
	return New(frames...)
}

// Get returns the seq for the key or 0
func (tf Timeframe) Get(key string) uint64 {
	return tf.frames[key]
}

func (tf Timeframe) Has(key string) bool {
	_, ok := tf.frames[key]
	return ok
}

func (tf Timeframe) Len() int {
	return len(tf.frames)
}

func (tf Timeframe) IsEmpty() bool {
	return len(tf.frames) == 0
}

// Keys returns feed keys in lexicographic order
func (tf Timeframe) Keys() []string {
	keys := make([]string, 0, len(tf.frames))
	for k := range tf.frames {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Frames returns frames ordered by key
func (tf Timeframe) Frames() []Frame {
	keys := tf.Keys()
	frames := make([]Frame, len(keys))
	for i, k := range keys {
		frames[i] = Frame{Key: k, Seq: tf.frames[k]}
	}
	return frames
}

// Map returns a copy of the underlying mapping
func (tf Timeframe) Map() map[string]uint64 {
	return maps.Clone(tf.frames)
}

// Set returns a new timeframe with the key set to seq regardless of the current value
func (tf Timeframe) Set(key string, seq uint64) Timeframe {
	m := maps.Clone(tf.frames)
	if m == nil {
		m = make(map[string]uint64, 1)
	}
	if seq == 0 {
		delete(m, key)
	} else {
		m[key] = seq
	}
	return Timeframe{frames: m}
}

// TotalMessages is the sum of all seqs. It's a progress heuristic only, it says nothing about causality.
func (tf Timeframe) TotalMessages() (total uint64) {
	for _, seq := range tf.frames {
		total += seq
	}
	return
}

// WithoutKeys returns a projection without the given feeds
func (tf Timeframe) WithoutKeys(keys ...string) Timeframe {
	res := Timeframe{frames: maps.Clone(tf.frames)}
	for _, k := range keys {
		delete(res.frames, k)
	}
	return res
}

// Covers reports whether every frame of other is reached by tf
func (tf Timeframe) Covers(other Timeframe) bool {
	return Dependencies(other, tf).IsEmpty()
}

func (tf Timeframe) Equals(other Timeframe) bool {
	return maps.Equal(tf.frames, other.frames)
}

func (tf Timeframe) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, f := range tf.Frames() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(shortKey(f.Key))
		b.WriteByte('[')
		b.WriteString(strconv.FormatUint(f.Seq, 10))
		b.WriteByte(']')
	}
	b.WriteByte(')')
	return b.String()
}

func shortKey(k string) string {
	if len(k) > 8 {
		return k[:8]
	}
	return k
}

// Merge keeps the max seq per feed across all inputs
func Merge(tfs ...Timeframe) Timeframe {
	res := Timeframe{}
	for _, tf := range tfs {
		for k, seq := range tf.frames {
			if res.frames == nil {
				res.frames = make(map[string]uint64, len(tf.frames))
			}
			if seq > res.frames[k] {
				res.frames[k] = seq
			}
		}
	}
	return res
}

// Dependencies returns the frames of target that are not reached by have.
// An empty result means have already covers target.
func Dependencies(target, have Timeframe) Timeframe {
	res := Timeframe{}
	for k, seq := range target.frames {
		if seq > have.frames[k] {
			if res.frames == nil {
				res.frames = make(map[string]uint64)
			}
			res.frames[k] = seq
		}
	}
	return res
}
