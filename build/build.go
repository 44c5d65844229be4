// Package build contains build-time information.
package build

import "time"

// Commit returns the commit hash of znnwallet
func Commit() string {
	return commit
}

// Version returns the version of znnwallet
func Version() string {
	return version
}

// Time returns the time at which the binary was built. The zero time is
// returned for development builds.
func Time() time.Time {
	if buildTime == 0 {
		return time.Time{}
	}
	return time.Unix(buildTime, 0)
}

// String returns a one-line description of the build.
func String() string {
	s := "znnwallet " + version
	if commit != "?" {
		s += " (" + commit + ")"
	}
	return s
}
