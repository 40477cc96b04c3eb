package veil

import (
	"crypto/md5"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UniqueObjectID derives a stable UUID from a base ID and any number
// of qualifiers. The same inputs always yield the same ID, which is
// what makes fee traces and snapshot rows idempotent across retries.
func UniqueObjectID(parts ...string) string {
	h := md5.Sum([]byte(strings.Join(parts, "")))
	h[6] = (h[6] & 0x0f) | 0x30 // version 3
	h[8] = (h[8] & 0x3f) | 0x80 // RFC 4122 variant
	id, _ := uuid.FromBytes(h[:])
	return id.String()
}

// FeeTraceID is the derived trace ID used for the separate fee
// transaction of a withdrawal.
func FeeTraceID(traceID string) string {
	return UniqueObjectID(traceID, "FEE")
}

func NewTraceID() string {
	return uuid.NewString()
}

// TimestampUTC renders the canonical created_at/updated_at format.
func TimestampUTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func Now() string {
	return TimestampUTC(time.Now())
}
