package timeframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	tf := New(Frame{"a", 1}, Frame{"a", 5}, Frame{"a", 3}, Frame{"b", 2}, Frame{"c", 0})
	assert.Equal(t, uint64(5), tf.Get("a"))
	assert.Equal(t, uint64(2), tf.Get("b"))
	assert.False(t, tf.Has("c"))
	assert.Equal(t, []string{"a", "b"}, tf.Keys())
	assert.True(t, New().IsEmpty())
}

func TestMerge(t *testing.T) {
	tf1 := New(Frame{"a", 1}, Frame{"b", 7})
	tf2 := New(Frame{"a", 4}, Frame{"c", 2})
	tf3 := New(Frame{"b", 3}, Frame{"d", 9})

	t.Run("idempotent", func(t *testing.T) {
		assert.True(t, Merge(tf1, tf1).Equals(tf1))
	})
	t.Run("commutative", func(t *testing.T) {
		assert.True(t, Merge(tf1, tf2).Equals(Merge(tf2, tf1)))
	})
	t.Run("associative", func(t *testing.T) {
		left := Merge(Merge(tf1, tf2), tf3)
		right := Merge(tf1, Merge(tf2, tf3))
		assert.True(t, left.Equals(right))
		assert.Equal(t, []Frame{{"a", 4}, {"b", 7}, {"c", 2}, {"d", 9}}, left.Frames())
	})
	t.Run("inputs untouched", func(t *testing.T) {
		_ = Merge(tf1, tf2)
		assert.Equal(t, uint64(1), tf1.Get("a"))
	})
}

func TestDependencies(t *testing.T) {
	tf := New(Frame{"a", 3}, Frame{"b", 1})
	assert.True(t, Dependencies(tf, tf).IsEmpty())
	assert.True(t, Dependencies(New(Frame{"a", 5}), New()).Equals(New(Frame{"a", 5})))
	assert.True(t, Dependencies(New(Frame{"a", 5}), New(Frame{"a", 5})).IsEmpty())
	assert.True(t, Dependencies(
		New(Frame{"a", 5}, Frame{"b", 5}),
		New(Frame{"a", 5}, Frame{"b", 4}),
	).Equals(New(Frame{"b", 5})))
	assert.True(t, Dependencies(New(Frame{"a", 2}), New(Frame{"a", 5})).IsEmpty())
	assert.True(t, New(Frame{"a", 5}, Frame{"b", 1}).Covers(tf.WithoutKeys("a")))
}

func TestWithoutKeys(t *testing.T) {
	tf := New(Frame{"a", 3}, Frame{"b", 1}, Frame{"c", 2})
	res := tf.WithoutKeys("a", "c", "x")
	assert.Equal(t, []string{"b"}, res.Keys())
	assert.Equal(t, 3, tf.Len())
}

func TestTotalMessages(t *testing.T) {
	assert.Equal(t, uint64(0), New().TotalMessages())
	assert.Equal(t, uint64(6), New(Frame{"a", 3}, Frame{"b", 1}, Frame{"c", 2}).TotalMessages())
}

func TestSetAndString(t *testing.T) {
	tf := New(Frame{"a", 3})
	tf2 := tf.Set("b", 2)
	assert.False(t, tf.Has("b"))
	assert.Equal(t, "(a[3], b[2])", tf2.String())
	assert.False(t, tf2.Set("a", 0).Has("a"))
	assert.Equal(t, map[string]uint64{"a": 3}, tf.Map())
}
