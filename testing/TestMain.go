// Package testing switches binaries into test mode when imported by tests.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("AGORA_TEST_MODE", "1")
		if os.Getenv("OPERATOR_TOKEN_HASH") == "" {
			_ = os.Setenv("OPERATOR_TOKEN_HASH", "test-mode")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
