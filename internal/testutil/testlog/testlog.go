package testlog

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/teleguys/kannel-sub001/internal/observability"
)

var configureOnce sync.Once

// Start configures the shared test logger once per binary.
func Start(t *testing.T) {
	t.Helper()
	configureOnce.Do(func() {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
		observability.InitLogger("test")
	})
}
