// Package generator assigns message ids at append time.
package generator

import (
	"fmt"
	"time"
)

// Kinds accepted by New.
const (
	KindULID      = "ulid"
	KindKSUID     = "ksuid"
	KindUUID      = "uuid"
	KindNanoID    = "nanoid"
	KindCUID2     = "cuid2"
	KindSnowflake = "snowflake"
)

// Generator creates message ids. Time-based kinds embed at so that ids of
// one conversation sort with their send time.
type Generator interface {
	Next(at time.Time) (string, error)
	// Validate reports why id could not have come from this generator.
	Validate(id string) error
}

type Config struct {
	Kind      string `mapstructure:"kind"`
	MachineID int64  `mapstructure:"machine_id"` // snowflake
	Epoch     int64  `mapstructure:"epoch"`      // snowflake, unix ms
	Size      int    `mapstructure:"size"`       // nanoid, cuid2
	Alphabet  string `mapstructure:"alphabet"`   // nanoid
}

// New builds the generator selected by cfg.Kind; ULID when empty.
func New(cfg Config) (Generator, error) {
	switch cfg.Kind {
	case "", KindULID:
		return NewULID(), nil
	case KindKSUID:
		return KSUID{}, nil
	case KindUUID:
		return UUID{}, nil
	case KindNanoID:
		size, alphabet := cfg.Size, cfg.Alphabet
		if size == 0 {
			size = DefaultNanoIDSize
		}
		if alphabet == "" {
			alphabet = DefaultNanoIDAlphabet
		}
		return NewNanoID(size, alphabet)
	case KindCUID2:
		size := cfg.Size
		if size == 0 {
			size = DefaultCUID2Length
		}
		return NewCUID2(size)
	case KindSnowflake:
		return NewSnowflake(cfg.MachineID, cfg.Epoch)
	default:
		return nil, fmt.Errorf("unknown id generator: %s", cfg.Kind)
	}
}
