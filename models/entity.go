package models

import "time"

// EntityKind distinguishes the two classes of monitored infrastructure.
type EntityKind string

const (
	// KindHost is a physical or virtual machine reporting through an agent.
	KindHost EntityKind = "host"

	// KindCluster is a Kubernetes cluster reporting through the poller.
	KindCluster EntityKind = "cluster"
)

// EntityStatus is the derived liveness/health state of an entity.
//
// Status is never accepted from API clients. It is written only by the
// ingestion coordinator (successful ingest), the liveness sweep (idle
// timeout) and the cluster poller failure path.
type EntityStatus string

const (
	// StatusOnline means the entity ingested recently and nothing is wrong.
	StatusOnline EntityStatus = "online"

	// StatusOffline means no ingest arrived within the liveness timeout.
	StatusOffline EntityStatus = "offline"

	// StatusWarning means the entity is reporting but has open alerts.
	StatusWarning EntityStatus = "warning"

	// StatusDegraded means the entity is reporting but at least one of its
	// service checks is unhealthy.
	StatusDegraded EntityStatus = "degraded"

	// StatusUnreachable means the poller could not reach the entity at all.
	StatusUnreachable EntityStatus = "unreachable"
)

// Entity represents a monitored host or Kubernetes cluster.
//
// Entities are registered through the API before they may ingest metrics.
// Registration mints an agent API key whose SHA-256 hash is stored on the
// entity; the plaintext key is returned exactly once.
//
// Example JSON representation:
//
//	{
//	  "id": "host:2f4a9c1e-8d13-4a67-9a51-7c1f0b5d2e88",
//	  "kind": "host",
//	  "name": "nas-01",
//	  "hostname": "nas-01.lan",
//	  "labels": {"rack": "attic", "os": "debian"},
//	  "status": "online",
//	  "last_seen": "2025-11-02T18:04:05Z"
//	}
type Entity struct {
	// ID is the stable entity identifier, prefixed by kind.
	ID string `json:"id"`

	// Kind is host or cluster.
	Kind EntityKind `json:"kind"`

	// Name is the human-readable display name (required).
	Name string `json:"name"`

	// Hostname is the network name the agent reports from.
	Hostname string `json:"hostname,omitempty"`

	// Labels are free-form operator annotations.
	Labels map[string]string `json:"labels,omitempty"`

	// Status is derived; see EntityStatus.
	Status EntityStatus `json:"status"`

	// LastSeen is the timestamp of the most recent successful ingest.
	LastSeen *time.Time `json:"last_seen,omitempty"`

	// APIKeyHash is the SHA-256 hex digest of the entity's agent key.
	// Never serialized to API responses.
	APIKeyHash string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidKind reports whether k names a known entity kind.
func ValidKind(k EntityKind) bool {
	return k == KindHost || k == KindCluster
}

// ValidStatus reports whether s names a known entity status.
func ValidStatus(s EntityStatus) bool {
	switch s {
	case StatusOnline, StatusOffline, StatusWarning, StatusDegraded, StatusUnreachable:
		return true
	}
	return false
}
