package model

import "time"

// EventKind identifies the document change that produced a LeadEvent.
type EventKind string

const (
	EventLeadCreated EventKind = "lead.created"
	EventLeadUpdated EventKind = "lead.updated"
)

// LeadEvent is the change notification delivered to stage handlers.
// Delivery is at-least-once: handlers must re-check persisted state and
// treat the snapshots as advisory, not authoritative.
type LeadEvent struct {
	Kind       EventKind `json:"kind"`
	OwnerID    string    `json:"owner_id"`
	LeadID     string    `json:"lead_id"`
	Before     *Lead     `json:"before,omitempty"`
	After      *Lead     `json:"after,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
