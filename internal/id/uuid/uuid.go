// Package uuid provides run and record identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// recordSpace namespaces record keys so they never collide with other
// name-based UUIDs.
var recordSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/JakeFAU/media-harvester/record"))

// Generator creates UUID v7 run IDs.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a time-ordered UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// RecordKey derives a stable key for one record of one run, so a
// redelivered record keeps its identity downstream.
func RecordKey(runID, globalID string) string {
	return uuid.NewSHA1(recordSpace, []byte(runID+"/"+globalID)).String()
}
