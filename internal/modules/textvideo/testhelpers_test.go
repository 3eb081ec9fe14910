package textvideo

import (
	"sync"
	"testing"

	"github.com/solocore/textloom/internal/platform/logger"
)

var (
	testLogOnce sync.Once
	testLog     *logger.Logger
	testLogErr  error
)

func testLogger(tb testing.TB) *logger.Logger {
	tb.Helper()
	testLogOnce.Do(func() {
		testLog, testLogErr = logger.New("test")
	})
	if testLogErr != nil {
		tb.Fatalf("init logger: %v", testLogErr)
	}
	return testLog
}
