package tracker

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// IDGenerator supplies ids for finalized sessions.
type IDGenerator interface {
	NewID() string
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type uuidGenerator struct{}

func (uuidGenerator) NewID() string { return uuid.NewString() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// UUIDs returns a random UUID generator.
func UUIDs() IDGenerator { return uuidGenerator{} }

func nowMillis(c Clock) int64 { return c.Now().UnixMilli() }
