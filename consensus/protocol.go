package consensus

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-version"
)

// ErrUnsupportedProtocol is returned when a peer's wire protocol version
// cannot be handled by this process: either newer than the latest version
// this build knows about, or simply different from the version every peer
// in this deployment was configured with.
var ErrUnsupportedProtocol = errors.New("consensus: unsupported protocol version")

// LatestProtocolVersion is the newest wire protocol version this build
// understands. A peer announcing anything past it is rejected outright,
// mirroring the teacher's own checkRPCHeader gate in protocol.go.
const LatestProtocolVersion = "1.0.0"

// CheckProtocolVersion verifies a remote peer's announced protocol version
// against this process's configured one. The compatibility rule is strict
// equality with the configured version, and an outright rejection of
// anything newer than LatestProtocolVersion, expressed as real version
// constraints rather than a raw string or integer compare.
func CheckProtocolVersion(configured, remote string) error {
	local, err := version.NewVersion(configured)
	if err != nil {
		return fmt.Errorf("consensus: configured protocol version %q: %w", configured, err)
	}
	latest, err := version.NewVersion(LatestProtocolVersion)
	if err != nil {
		return fmt.Errorf("consensus: latest protocol version %q: %w", LatestProtocolVersion, err)
	}
	peer, err := version.NewVersion(remote)
	if err != nil {
		return fmt.Errorf("%w: %q is not a version: %v", ErrUnsupportedProtocol, remote, err)
	}

	if peer.GreaterThan(latest) {
		return fmt.Errorf("%w: %s is newer than %s", ErrUnsupportedProtocol, peer, latest)
	}
	if !peer.Equal(local) {
		return fmt.Errorf("%w: %s, want %s", ErrUnsupportedProtocol, peer, local)
	}
	return nil
}
