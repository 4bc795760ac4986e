package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("CHURCH_TEST_MODE") == "" {
			_ = os.Setenv("CHURCH_TEST_MODE", "1")
		}
	})
}
