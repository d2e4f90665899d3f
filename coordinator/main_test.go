package coordinator

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies no goroutine started by a Coordinator (main loop,
// per-peer broadcast tasks) outlives Stop(), catching the class of bug
// where a test forgets to drain a channel or cancel a context.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
