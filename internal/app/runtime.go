package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

const testModeEnv = "GROUPSPEND_TEST_MODE"

// testMode is nil until first read.
var testMode atomic.Pointer[bool]

func readTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(testModeEnv))
	return err == nil && on
}

// InTestMode reports whether the binaries should return before opening
// storage or Redis. Any strconv.ParseBool true value enables it.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	on := readTestMode()
	testMode.CompareAndSwap(nil, &on)
	return *testMode.Load()
}

// RefreshTestMode re-reads GROUPSPEND_TEST_MODE.
func RefreshTestMode() {
	on := readTestMode()
	testMode.Store(&on)
}
