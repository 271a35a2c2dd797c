// Package buildinfo exposes version metadata injected at build time with -ldflags.
package buildinfo

var (
	// Version is the semantic version of the binary.
	Version = "dev"
	// Commit is the git commit the binary was built from.
	Commit = "none"
	// BuildDate is the RFC3339 build timestamp.
	BuildDate = "unknown"
)

// ServiceName is reported by the health endpoint and the CLI banner.
const ServiceName = "flow-proxy"
