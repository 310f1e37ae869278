// Package version provides build identification for worldsync binaries and peer handshakes.
package version

var (
	// DefaultProtocolVersion is advertised during peer handshake so mismatched
	// cores can refuse to sync rather than corrupt each other's chunk state.
	DefaultProtocolVersion = "worldsync/1"
	DefaultUserAgent       string
)

func init() {
	DefaultUserAgent = "worldsync/0.1.0"
}
