package app

import (
	"os"
	"sync"
)

const testModeEnv = "ODYSSEY_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return os.Getenv(testModeEnv) == "1"
})

// InTestMode reports whether commands should skip runtime side effects such
// as opening connections and listening.
func InTestMode() bool {
	return testMode()
}
