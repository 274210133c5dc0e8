package models

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateID generates a unique ID with the given prefix.
// Example: GenerateID("rule") -> "rule:uuid-here"
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s:%s", prefix, uuid.New().String())
}

// NewEntityID generates an entity ID prefixed by its kind, e.g.
// "host:uuid-here" or "cluster:uuid-here".
func NewEntityID(kind EntityKind) string {
	return GenerateID(string(kind))
}
