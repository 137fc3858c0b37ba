// Package guard puts the process in test mode when imported, so binaries wired
// from test code skip their runtime side effects. An explicit ODYSSEY_TEST_MODE
// wins.
package guard

import "os"

const modeEnv = "ODYSSEY_TEST_MODE"

func init() {
	if _, set := os.LookupEnv(modeEnv); !set {
		_ = os.Setenv(modeEnv, "1")
	}
}
