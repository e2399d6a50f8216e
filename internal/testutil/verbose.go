package testutil

import (
	"os"
)

// VerboseTest returns true if the test run asked for DEBUG=1, used to
// switch slog to debug level for the duration of a test.
func VerboseTest() bool {
	return os.Getenv("DEBUG") == "1"
}
