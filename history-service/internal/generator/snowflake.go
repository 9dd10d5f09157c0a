package generator

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// 41 bits of milliseconds since epoch, 10 bits of machine id, 12 bits of
// sequence.
const (
	machineIDBits = 10
	sequenceBits  = 12

	maxMachineID   = (1 << machineIDBits) - 1
	maxSequence    = (1 << sequenceBits) - 1
	timestampShift = sequenceBits + machineIDBits
)

// Snowflake packs the send time into a decimal 64-bit id. Ids for messages
// sent in the same millisecond are told apart by the sequence; a send time
// older than the last one issued is clamped so ids never repeat.
type Snowflake struct {
	mu        sync.Mutex
	epoch     int64
	machineID int64
	lastMs    int64
	sequence  int64
}

func NewSnowflake(machineID, epoch int64) (*Snowflake, error) {
	if machineID < 0 || machineID > maxMachineID {
		return nil, fmt.Errorf("machine_id must be between 0 and %d, got %d", maxMachineID, machineID)
	}
	return &Snowflake{machineID: machineID, epoch: epoch}, nil
}

func (g *Snowflake) Next(at time.Time) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := at.UnixMilli()
	if ms < g.epoch {
		return "", fmt.Errorf("send time is before epoch")
	}

	if ms < g.lastMs {
		ms = g.lastMs
	}
	if ms == g.lastMs {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			return "", fmt.Errorf("sequence exhausted for %d", ms)
		}
	} else {
		g.sequence = 0
		g.lastMs = ms
	}

	id := ((ms - g.epoch) << timestampShift) | (g.machineID << sequenceBits) | g.sequence
	return strconv.FormatInt(id, 10), nil
}

func (g *Snowflake) Validate(id string) error {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid snowflake: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("snowflake must be positive")
	}
	if ms := (n >> timestampShift) + g.epoch; ms > time.Now().Add(time.Minute).UnixMilli() {
		return fmt.Errorf("snowflake timestamp is in the future")
	}
	return nil
}
