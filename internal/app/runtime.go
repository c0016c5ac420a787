package app

import (
	"os"
	"sync"
)

const testModeEnv = "ODYSSEY_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return os.Getenv(testModeEnv) == "1"
})

// InTestMode reports whether binaries should return before touching Postgres or Redis.
func InTestMode() bool {
	return testMode()
}
