//go:build windows

package media

import "os"

// Windows has no SIGTERM for child processes; Kill is the only option.
var stopSignal os.Signal = os.Kill
