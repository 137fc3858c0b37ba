package app

import (
	"os"
	"sync"
	"sync/atomic"
)

// testModeEnv set to "1" makes the binaries exit before touching Postgres or Redis.
const testModeEnv = "ODYSSEY_TEST_MODE"

var testMode struct {
	once sync.Once
	on   atomic.Bool
}

// InTestMode reports whether the binaries should skip their runtime side effects.
// The environment is read on first use.
func InTestMode() bool {
	testMode.once.Do(RefreshTestMode)
	return testMode.on.Load()
}

// RefreshTestMode re-reads the environment.
func RefreshTestMode() {
	testMode.on.Store(os.Getenv(testModeEnv) == "1")
}
