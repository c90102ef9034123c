// Package version identifies the running Noto build.
package version

import (
	"fmt"
	"runtime"
)

// Version is overridden at build time with
// -ldflags "-X noto/internal/version.Version=1.2.3".
var Version = "0.1.0"

// UserAgent is sent on every outbound request.
func UserAgent() string {
	return "noto/" + Version
}

// String reports the version along with the platform, for `noto version`.
func String() string {
	return fmt.Sprintf("noto %s (%s/%s, %s)", Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
