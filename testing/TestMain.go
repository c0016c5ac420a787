// Package testing is imported for side effects by every test package so the
// ledger processes see a hermetic environment.
package testing

import (
	"os"
	"strings"
	"sync"
	stdtesting "testing"
)

// hermeticPrefixes are cleared so a developer shell cannot leak ledger
// tuning into config default assertions.
var hermeticPrefixes = []string{"LEDGER_", "BALANCE_CACHE_", "CLOSE_LOCK_", "PG_MAX_", "PG_MIN_"}

var prepare = sync.OnceFunc(func() {
	_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
	_ = os.Setenv("LOG_FORMAT", "text")
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		for _, prefix := range hermeticPrefixes {
			if strings.HasPrefix(key, prefix) {
				_ = os.Unsetenv(key)
			}
		}
	}
})

func init() {
	prepare()
}

// TestMain prepares the environment for packages that delegate to it.
func TestMain(m *stdtesting.M) {
	prepare()
	os.Exit(m.Run())
}
