package generator

import (
	"fmt"
	"time"

	"github.com/segmentio/ksuid"
)

// KSUID ids have one-second time resolution.
type KSUID struct{}

func (KSUID) Next(at time.Time) (string, error) {
	id, err := ksuid.NewRandomWithTime(at)
	if err != nil {
		return "", fmt.Errorf("failed to generate KSUID: %w", err)
	}
	return id.String(), nil
}

func (KSUID) Validate(id string) error {
	if _, err := ksuid.Parse(id); err != nil {
		return fmt.Errorf("invalid KSUID: %w", err)
	}
	return nil
}
