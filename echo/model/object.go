package model

import (
	"fmt"
	"slices"

	"github.com/dxos/dxos-sub075/echo/mutation"
)

const ObjectModelType = "dxos:model/object"

// ObjectModel is a last-writer-wins map. Each top level key keeps the stamp of the write that set
// or deleted it, so replicas converge whatever order they apply messages in.
type ObjectModel struct {
	state  map[string]any
	stamps map[string]Stamp
}

func NewObjectModel() Model {
	return &ObjectModel{
		state:  make(map[string]any),
		stamps: make(map[string]Stamp),
	}
}

func (o *ObjectModel) ProcessMessage(msg Message) error {
	if msg.Envelope == nil {
		return fmt.Errorf("%w: empty envelope", mutation.ErrDecode)
	}
	if err := mutation.Validate(msg.Envelope.Mutation); err != nil {
		return err
	}
	stamp := msg.Stamp()
	for _, kv := range msg.Envelope.Mutation {
		if cur, ok := o.stamps[kv.Key]; ok && stamp.Less(cur) {
			continue
		}
		if err := mutation.ApplyValue(o.state, kv.Key, kv.Value); err != nil {
			return err
		}
		o.stamps[kv.Key] = stamp
	}
	return nil
}

func (o *ObjectModel) State() map[string]any {
	return mutation.CloneState(o.state)
}

const (
	snapshotStateKey  = "state"
	snapshotStampsKey = "stamps"
	stampClockKey     = "c"
	stampFeedKey      = "f"
	stampSeqKey       = "s"
)

// Snapshot encodes state and stamps as an object mutation so it reuses the value codec.
// Stamp counters are stored as their int64 bit pattern.
func (o *ObjectModel) Snapshot() ([]byte, error) {
	state, err := mutation.MutationFromMap(o.state)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(o.stamps))
	for k := range o.stamps {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	stamps := make(mutation.ObjectMutation, 0, len(keys))
	for _, k := range keys {
		s := o.stamps[k]
		stamps = append(stamps, mutation.KeyValue{Key: k, Value: mutation.Object(mutation.ObjectMutation{
			{Key: stampClockKey, Value: mutation.Int(int64(s.Clock))},
			{Key: stampFeedKey, Value: mutation.String(s.FeedKey)},
			{Key: stampSeqKey, Value: mutation.Int(int64(s.Seq))},
		})})
	}
	return mutation.MarshalObjectMutation(mutation.ObjectMutation{
		{Key: snapshotStateKey, Value: mutation.Object(state)},
		{Key: snapshotStampsKey, Value: mutation.Object(stamps)},
	}), nil
}

func (o *ObjectModel) Restore(data []byte) error {
	m, err := mutation.UnmarshalObjectMutation(data)
	if err != nil {
		return err
	}
	decoded := make(map[string]any)
	if err = mutation.ApplyMutation(decoded, m); err != nil {
		return err
	}
	state, _ := decoded[snapshotStateKey].(map[string]any)
	rawStamps, _ := decoded[snapshotStampsKey].(map[string]any)
	stamps := make(map[string]Stamp, len(rawStamps))
	for k, v := range rawStamps {
		sm, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: bad stamp for key %q", mutation.ErrDecode, k)
		}
		clock, _ := sm[stampClockKey].(int64)
		feed, _ := sm[stampFeedKey].(string)
		seq, _ := sm[stampSeqKey].(int64)
		stamps[k] = Stamp{Clock: uint64(clock), FeedKey: feed, Seq: uint64(seq)}
	}
	if state == nil {
		state = make(map[string]any)
	}
	o.state = state
	o.stamps = stamps
	return nil
}
