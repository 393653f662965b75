// Package guard switches the binaries into test mode when imported for its
// side effects from a test file.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("TASSA_TEST_MODE") == "" {
			_ = os.Setenv("TASSA_TEST_MODE", "1")
		}
		if os.Getenv("GOTENBERG_URL") == "" {
			_ = os.Setenv("GOTENBERG_URL", "http://127.0.0.1:0")
		}
	})
}
