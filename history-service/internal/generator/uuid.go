package generator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UUID issues version 7 ids. The library stamps them with the current
// time, not the send time.
type UUID struct{}

func (UUID) Next(time.Time) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID: %w", err)
	}
	return id.String(), nil
}

func (UUID) Validate(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid UUID: %w", err)
	}
	if parsed.Version() != 7 {
		return fmt.Errorf("expected UUID v7, got v%d", parsed.Version())
	}
	return nil
}
