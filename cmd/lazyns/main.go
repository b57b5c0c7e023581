// Command lazyns maps directory trees onto lazily resolved namespaces and
// serves them as a read-only filesystem.
package main

import (
	"os"

	"lazyns/internal/logging"
)

var (
	logger = logging.GetLogger()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}
