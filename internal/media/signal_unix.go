//go:build !windows

package media

import (
	"os"
	"syscall"
)

var stopSignal os.Signal = syscall.SIGTERM
