package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxos/dxos-sub075/echo/mutation"
)

func objectMsg(t *testing.T, feed string, seq, clock uint64, changes map[string]any) Message {
	m, err := mutation.MutationFromMap(changes)
	require.NoError(t, err)
	return Message{FeedKey: feed, Seq: seq, Envelope: &mutation.MutationEnvelope{
		ItemID:   "x",
		ItemType: ObjectModelType,
		Mutation: m,
		Clock:    clock,
	}}
}

func TestObjectModel_LastWriterWins(t *testing.T) {
	msgs := []Message{
		objectMsg(t, "a", 1, 1, map[string]any{"title": "a1", "n": 1}),
		objectMsg(t, "b", 1, 1, map[string]any{"title": "b1"}),
		objectMsg(t, "a", 2, 2, map[string]any{"n": nil}),
		objectMsg(t, "b", 2, 2, map[string]any{"n": 5}),
	}
	orders := [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {1, 0, 3, 2}, {2, 3, 0, 1}}
	var states []map[string]any
	for _, order := range orders {
		m := NewObjectModel()
		for _, i := range order {
			require.NoError(t, m.ProcessMessage(msgs[i]))
		}
		states = append(states, m.State())
	}
	for _, st := range states {
		// clock 1 tie broken by feed key: b wins; clock 2 tie: b wins over a's delete
		assert.Equal(t, map[string]any{"title": "b1", "n": int64(5)}, st)
	}
}

func TestObjectModel_DeleteKeepsStamp(t *testing.T) {
	m := NewObjectModel()
	require.NoError(t, m.ProcessMessage(objectMsg(t, "a", 2, 5, map[string]any{"k": nil})))
	require.NoError(t, m.ProcessMessage(objectMsg(t, "b", 1, 3, map[string]any{"k": "old"})))
	assert.Empty(t, m.State())
}

func TestObjectModel_RepeatedKeyInOneMutation(t *testing.T) {
	m := NewObjectModel()
	msg := Message{FeedKey: "a", Seq: 1, Envelope: &mutation.MutationEnvelope{
		ItemID: "x",
		Mutation: mutation.ObjectMutation{
			{Key: "k", Value: mutation.Int(1)},
			{Key: "k", Value: mutation.Int(2)},
		},
	}}
	require.NoError(t, m.ProcessMessage(msg))
	assert.Equal(t, int64(2), m.State()["k"])
}

func TestObjectModel_DecodeError(t *testing.T) {
	m := NewObjectModel()
	msg := Message{FeedKey: "a", Seq: 1, Envelope: &mutation.MutationEnvelope{
		ItemID:   "x",
		Mutation: mutation.ObjectMutation{{Key: "ok", Value: mutation.Int(1)}, {Key: "bad"}},
	}}
	assert.ErrorIs(t, m.ProcessMessage(msg), mutation.ErrDecode)
	assert.Empty(t, m.State())
}

func TestObjectModel_SnapshotRestore(t *testing.T) {
	m := NewObjectModel()
	require.NoError(t, m.ProcessMessage(objectMsg(t, "a", 1, 4, map[string]any{
		"title": "foo",
		"obj":   map[string]any{"raw": []byte{1}},
		"gone":  nil,
	})))
	data, err := m.Snapshot()
	require.NoError(t, err)

	restored := NewObjectModel()
	require.NoError(t, restored.Restore(data))
	assert.Equal(t, m.State(), restored.State())

	// stamps survive: an older write to a deleted key is still ignored
	require.NoError(t, restored.ProcessMessage(objectMsg(t, "b", 1, 3, map[string]any{"gone": "back"})))
	assert.NotContains(t, restored.State(), "gone")

	again, err := restored.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, data, again)

	assert.Error(t, restored.Restore([]byte{0xff}))
}

func TestObjectModel_SnapshotLargeStamps(t *testing.T) {
	m := NewObjectModel()
	require.NoError(t, m.ProcessMessage(objectMsg(t, "a", math.MaxUint64, math.MaxUint64, map[string]any{"title": "foo"})))
	data, err := m.Snapshot()
	require.NoError(t, err)

	restored := NewObjectModel()
	require.NoError(t, restored.Restore(data))
	assert.Equal(t, m.State(), restored.State())
	require.NoError(t, restored.ProcessMessage(objectMsg(t, "b", 1, math.MaxInt64+1, map[string]any{"title": "bar"})))
	assert.Equal(t, "foo", restored.State()["title"])
}
