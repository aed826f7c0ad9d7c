package raftstore

import (
	"encoding/json"
	"fmt"
)

const PutRecordsOp = "put_records"

// RecordsEvent is the raft log entry carrying the writes of one committed transaction.
type RecordsEvent struct {
	RequestType string
	// key -> encoded record
	Records map[string][]byte
}

func NewRecordsEvent(requestType string, records map[string][]byte) RecordsEvent {
	return RecordsEvent{
		RequestType: requestType,
		Records:     records,
	}
}

// Marshal and encode the raft entry
func (e RecordsEvent) Marshal() ([]byte, error) {
	res, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func UnmarshalRecordsEvent(buf []byte) (RecordsEvent, error) {
	var e RecordsEvent
	if err := json.Unmarshal(buf, &e); err != nil {
		return e, fmt.Errorf("failed unmarshaling RecordsEvent: %w", err)
	}
	return e, nil
}
