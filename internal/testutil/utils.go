// Package testutil carries small helpers shared across the package
// tests.
package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger tagged with the test name so interleaved
// output from parallel store and dispatcher tests stays attributable.
func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "["+t.Name()+"] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}
