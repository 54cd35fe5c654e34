package idgen

import (
	"testing"

	"github.com/google/uuid"
)

func TestUUIDUnique(t *testing.T) {
	g := UUID{}
	a, b := g.NewID(), g.NewID()
	if a == b {
		t.Fatal("consecutive ids collided")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Fatalf("not a uuid: %q", a)
	}
}

func TestSequential(t *testing.T) {
	g := &Sequential{Prefix: "task"}
	if got := g.NewID(); got != "task-1" {
		t.Fatalf("first id %q", got)
	}
	if got := g.NewID(); got != "task-2" {
		t.Fatalf("second id %q", got)
	}
}
