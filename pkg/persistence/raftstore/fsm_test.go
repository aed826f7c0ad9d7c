package raftstore

import (
	"bytes"
	"testing"

	"github.com/epsniff/runfactory/pkg/persistence"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func applyRecords(t *testing.T, f *recordStateMachine, index uint64, records map[string][]byte) sm.Result {
	t.Helper()
	data, err := NewRecordsEvent(PutRecordsOp, records).Marshal()
	require.NoError(t, err)
	res, err := f.Update(sm.Entry{Index: index, Cmd: data})
	require.NoError(t, err)
	return res
}

func TestRecordStateMachine_UpdateAndLookup(t *testing.T) {
	tests := []struct {
		name    string
		records map[string][]byte
		query   interface{}
		want    []byte
		wantErr error
	}{
		{
			name:    "stored record",
			records: map[string][]byte{"state/32": []byte(`{"a":1}`)},
			query:   "state/32",
			want:    []byte(`{"a":1}`),
		},
		{
			name:    "missing record",
			records: map[string][]byte{"state/32": []byte(`{}`)},
			query:   "state/33",
			wantErr: persistence.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRecordStateMachine(ShardID, 1, zap.NewNop())
			res := applyRecords(t, f, 1, tt.records)
			assert.Equal(t, uint64(ResultCodeSuccess), res.Value)

			got, err := f.Lookup(tt.query)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecordStateMachine_LookupRejectsBadQuery(t *testing.T) {
	f := newRecordStateMachine(ShardID, 1, zap.NewNop())
	_, err := f.Lookup(42)
	assert.Error(t, err)
}

func TestRecordStateMachine_GarbageEntryKeepsReplicaRunning(t *testing.T) {
	f := newRecordStateMachine(ShardID, 1, zap.NewNop())
	applyRecords(t, f, 1, map[string][]byte{"state/32": []byte(`{"a":1}`)})

	res, err := f.Update(sm.Entry{Index: 2, Cmd: []byte("not json")})
	require.NoError(t, err)
	assert.Equal(t, uint64(ResultCodeFailure), res.Value)

	res = applyRecords(t, f, 3, map[string][]byte{"state/33": []byte(`{"b":2}`)})
	assert.Equal(t, uint64(ResultCodeSuccess), res.Value)
	got, err := f.Lookup("state/32")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":1}`), got)
}

func TestRecordStateMachine_SnapshotRoundTrip(t *testing.T) {
	src := newRecordStateMachine(ShardID, 1, zap.NewNop())
	applyRecords(t, src, 1, map[string][]byte{"state/32": []byte(`{"max":3}`)})

	var buf bytes.Buffer
	require.NoError(t, src.SaveSnapshot(&buf, nil, nil))

	dst := newRecordStateMachine(ShardID, 2, zap.NewNop())
	require.NoError(t, dst.RecoverFromSnapshot(&buf, nil, nil))

	got, err := dst.Lookup("state/32")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"max":3}`), got)
}
