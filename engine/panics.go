package engine

import (
	"runtime"
	"strings"
)

// recoverPanic must be deferred directly. It logs the panic with a trimmed stack.
func recoverPanic(logger Logger, funcName string, fields map[string]any) {
	r := recover()
	if r == nil {
		return
	}
	stack := make([]byte, 8096)
	stack = stack[:runtime.Stack(stack, false)]
	all := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		all[k] = v
	}
	all["panic"] = r
	all["stack"] = string(cleanStackTrace(stack))
	scoped(logger, all).Error("recovered from panic in %s", funcName)
}

func cleanStackTrace(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")

	// drop the frames up to and including the panic() call
	panicLineIndex := -1
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			panicLineIndex = i
			break
		}
	}
	if panicLineIndex >= 0 && panicLineIndex+2 < len(lines) {
		lines = lines[panicLineIndex+2:]
	}
	return []byte(strings.Join(lines, "\n"))
}
