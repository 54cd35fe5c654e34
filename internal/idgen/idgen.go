package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces task and batch identifiers. It is injected rather
// than read from a package-level random source so tests can run
// deterministically.
type Generator interface {
	NewID() string
}

// UUID generates random UUIDv4 identifiers. The zero value is ready to use.
type UUID struct{}

func (UUID) NewID() string { return uuid.NewString() }

// Sequential generates "prefix-1", "prefix-2", ... and exists for tests.
type Sequential struct {
	Prefix string
	n      atomic.Int64
}

func (s *Sequential) NewID() string {
	return fmt.Sprintf("%s-%d", s.Prefix, s.n.Add(1))
}
