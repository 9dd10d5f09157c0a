package generator

import (
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	DefaultNanoIDSize     = 21
	DefaultNanoIDAlphabet = "_-0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// NanoID ids are random and carry no time.
type NanoID struct {
	size     int
	alphabet string
}

func NewNanoID(size int, alphabet string) (*NanoID, error) {
	if size < 1 || size > 256 {
		return nil, fmt.Errorf("nanoid size must be between 1 and 256, got %d", size)
	}
	if len(alphabet) < 2 {
		return nil, fmt.Errorf("nanoid alphabet must have at least 2 characters, got %d", len(alphabet))
	}
	return &NanoID{size: size, alphabet: alphabet}, nil
}

func (g *NanoID) Next(time.Time) (string, error) {
	id, err := gonanoid.Generate(g.alphabet, g.size)
	if err != nil {
		return "", fmt.Errorf("failed to generate NanoID: %w", err)
	}
	return id, nil
}

func (g *NanoID) Validate(id string) error {
	if len(id) != g.size {
		return fmt.Errorf("expected length %d, got %d", g.size, len(id))
	}
	if i := strings.IndexFunc(id, func(r rune) bool { return !strings.ContainsRune(g.alphabet, r) }); i >= 0 {
		return fmt.Errorf("character %q not in alphabet", id[i])
	}
	return nil
}
