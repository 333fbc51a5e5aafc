package models

import (
	"time"

	"github.com/google/uuid"
)

// LiveSession is the persisted record of one broadcast by a host.
// Once is_live flips to false the record is immutable and kept as history.
type LiveSession struct {
	ID         uuid.UUID  `json:"id"`
	HostHandle string     `json:"host_handle"`
	Title      string     `json:"title"`
	IsLive     bool       `json:"is_live"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
