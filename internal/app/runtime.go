package app

import (
	"os"
	"strconv"
	"sync"
)

const testModeEnv = "ODYSSEY_TEST_MODE"

var inTestMode = sync.OnceValue(func() bool {
	return testModeEnabled(os.Getenv)
})

// InTestMode reports whether the application should skip runtime side effects.
// The flag is read once per process.
func InTestMode() bool {
	return inTestMode()
}

func testModeEnabled(getenv func(string) string) bool {
	on, err := strconv.ParseBool(getenv(testModeEnv))
	return err == nil && on
}
