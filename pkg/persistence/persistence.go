package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("record not found")
)

// Key identifies a single record held by a Backend.
type Key struct {
	Kind string
	ID   int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Kind, k.ID)
}

// Tx is the view of a backend handed to a transaction body. Writes are visible to
// later reads within the same transaction.
type Tx interface {
	// Get decodes the record stored under key into `into`. Returns ErrNotFound
	// when there is no such record.
	Get(key Key, into interface{}) error

	// Put creates or replaces the record stored under key.
	Put(key Key, val interface{}) error
}

// Backend is a key identified record store with transaction scoped execution.
type Backend interface {
	// InTransaction runs fn and commits its writes if it returns nil. When fn
	// returns an error nothing is written and the error is returned unchanged.
	InTransaction(fn func(tx Tx) error) error

	Close() error
}

// Encode marshals a record value the way every backend stores it.
func Encode(val interface{}) ([]byte, error) {
	data, err := json.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return data, nil
}

// Decode is the inverse of Encode.
func Decode(data []byte, into interface{}) error {
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	return nil
}
