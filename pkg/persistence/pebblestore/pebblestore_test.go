package pebblestore

import (
	"errors"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/epsniff/runfactory/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type row struct {
	Name string
	Args []string
}

func openMem(t *testing.T, fs vfs.FS) *Store {
	t.Helper()
	s, err := Open("db", zap.NewNop(), WithFS(fs))
	require.NoError(t, err)
	return s
}

func TestStore_RoundTripSurvivesReopen(t *testing.T) {
	fs := vfs.NewMem()
	key := persistence.Key{Kind: "row", ID: 32}

	s := openMem(t, fs)
	require.NoError(t, s.InTransaction(func(tx persistence.Tx) error {
		var r row
		assert.ErrorIs(t, tx.Get(key, &r), persistence.ErrNotFound)
		return tx.Put(key, row{Name: "x", Args: []string{"-a", "-b"}})
	}))
	require.NoError(t, s.Close())

	s = openMem(t, fs)
	defer s.Close()
	var got row
	require.NoError(t, s.InTransaction(func(tx persistence.Tx) error {
		return tx.Get(key, &got)
	}))
	assert.Equal(t, row{Name: "x", Args: []string{"-a", "-b"}}, got)
}

func TestStore_ReadYourWritesAndRollback(t *testing.T) {
	s := openMem(t, vfs.NewMem())
	defer s.Close()
	key := persistence.Key{Kind: "row", ID: 1}
	boom := errors.New("boom")

	err := s.InTransaction(func(tx persistence.Tx) error {
		if err := tx.Put(key, row{Name: "staged"}); err != nil {
			return err
		}
		var r row
		require.NoError(t, tx.Get(key, &r))
		assert.Equal(t, "staged", r.Name)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = s.InTransaction(func(tx persistence.Tx) error {
		var r row
		return tx.Get(key, &r)
	})
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}
