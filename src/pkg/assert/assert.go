package assert

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// Assert panics with the formatted message when condition is false.
// The first optional argument is a format string, the rest are its operands.
func Assert(condition bool, args ...any) bool {
	if condition {
		return true
	}

	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "unknown"
		line = 0
	}

	filename := filepath.Base(file)

	if len(args) > 0 {
		format, _ := args[0].(string)
		panic(fmt.Sprintf(
			"Assertion failed: %s at %s:%d\n",
			fmt.Sprintf(format, args[1:]...),
			filename,
			line,
		))
	}
	panic(fmt.Sprintf("Assertion failed at %s:%d\n", filename, line))
}

func NoError(err error) {
	Assert(err == nil, "expected no error, got: %v", err)
}
