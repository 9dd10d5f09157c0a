package generator

import (
	"fmt"
	"time"

	"github.com/nrednav/cuid2"
)

const DefaultCUID2Length = 24

type CUID2 struct {
	length   int
	generate func() string
}

func NewCUID2(length int) (*CUID2, error) {
	if length < 2 || length > 32 {
		return nil, fmt.Errorf("cuid2 length must be between 2 and 32, got %d", length)
	}
	gen, err := cuid2.Init(cuid2.WithLength(length))
	if err != nil {
		return nil, fmt.Errorf("failed to init CUID2 generator: %w", err)
	}
	return &CUID2{length: length, generate: gen}, nil
}

func (g *CUID2) Next(time.Time) (string, error) {
	return g.generate(), nil
}

func (g *CUID2) Validate(id string) error {
	if len(id) != g.length {
		return fmt.Errorf("expected length %d, got %d", g.length, len(id))
	}
	if !cuid2.IsCuid(id) {
		return fmt.Errorf("invalid CUID2 format")
	}
	return nil
}
