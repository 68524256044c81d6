package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// DescriptionKind distinguishes the two halves of a negotiation exchange.
type DescriptionKind string

const (
	KindOffer  DescriptionKind = "offer"
	KindAnswer DescriptionKind = "answer"
)

// SessionDescription carries an opaque negotiation blob. A new offer with a
// different payload starts a new negotiation epoch (used for reconnection).
type SessionDescription struct {
	Kind    DescriptionKind `json:"kind"`
	Payload string          `json:"payload"`
}

// Direction scopes a candidate log to the party that emitted it.
type Direction string

const (
	DirCaller Direction = "caller"
	DirCallee Direction = "callee"
)

// Candidate is an opaque connectivity descriptor. The candidate channel is
// append-only and at-least-once, so consumers dedupe by content hash.
type Candidate struct {
	Payload string `json:"payload"`
}

// Hash is the dedupe key: re-delivery of an identical payload must be a no-op.
func (c Candidate) Hash() string {
	sum := sha256.Sum256([]byte(c.Payload))
	return hex.EncodeToString(sum[:])
}
