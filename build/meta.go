package build

// overridden at link time with -ldflags "-X go.zenon.tools/znnwallet/build.commit=..."
var (
	commit    = "?"
	version   = "devel"
	buildTime int64
)
