// Package ids provides the UUIDv7 identifier generator shared by services.
package ids

import "github.com/google/uuid"

// Generator issues UUIDv7 identifiers.
type Generator struct{}

// NewGenerator constructs a Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// NewID returns a new time-ordered identifier.
func (g *Generator) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
