package models

import (
	"encoding/json"
	"time"
)

// RawReading is one tagged sub-reading inside an ingest batch. Type names a
// metric category (see the Category constants); Data is the source-specific
// payload, decoded by the normalizer.
type RawReading struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// RawBatch is the pre-normalization ingest payload emitted by agents and
// the cluster poller. EntityID may be empty when the transport resolves the
// entity from the API key. A zero Timestamp means "now".
type RawBatch struct {
	EntityID  string       `json:"entity_id,omitempty"`
	Timestamp time.Time    `json:"timestamp,omitempty"`
	Readings  []RawReading `json:"readings"`
}
