// Package progress defines the event structures emitted by acquisition workers.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageBatchStart Stage = "BATCH_START"
	StageBatchDone  Stage = "BATCH_DONE"
	StageChainStart Stage = "CHAIN_START"
	StageChainDone  Stage = "CHAIN_DONE"
)

// Event captures a single component of acquisition progress.
type Event struct {
	// RunID identifies one Acquire call using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which batch or chain milestone occurred.
	Stage Stage
	// Record names the record a chain event belongs to.
	Record string
	// Site is the host serving the record's image, when known.
	Site string
	// Outcome is the terminal outcome kind of a finished chain.
	Outcome string
	// Records is the batch size on BATCH_START.
	Records int
	// Attempts counts fetch attempts made by a chain, retries included.
	Attempts int
	// Bytes is the persisted image size.
	Bytes int64
	// Dur captures chain or batch latency.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageBatchStart, StageBatchDone:
	case StageChainStart:
		if e.Record == "" {
			return errors.New("chain start requires record")
		}
	case StageChainDone:
		if e.Record == "" {
			return errors.New("chain done requires record")
		}
		if e.Outcome == "" {
			return errors.New("chain done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// NewRunID returns a fresh time-ordered run identifier.
func NewRunID() ([16]byte, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return [16]byte{}, fmt.Errorf("generate run id: %w", err)
	}
	return UUIDToBytes(id), nil
}
