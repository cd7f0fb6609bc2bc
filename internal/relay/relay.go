// Package relay moves camera frames between the capture device and the
// compute node and receives the compute node's results.
//
// Three listeners and one forwarder cooperate: the camera listener
// accepts a persistent TCP connection carrying length-prefixed frames,
// the forwarder re-emits each frame to the compute node over UDP once
// the experience gate is open, the processed listener receives
// annotated frames back, and the scene listener receives plain-text
// scene descriptions that feed the scene log.
//
// Every listener runs as one goroutine with a Run(ctx) method that
// returns when ctx is cancelled, designed to sit under an errgroup.
package relay

import "time"

// Stream names used in state snapshots, events, and metrics.
const (
	StreamCamera    = "camera"
	StreamProcessed = "processed"
)

const (
	// readTimeout bounds every blocking datagram receive so the loops
	// observe shutdown promptly.
	readTimeout = 1 * time.Second

	// socketBufferSize is applied to the UDP sockets; frame bursts at
	// 30 FPS overflow the kernel defaults.
	socketBufferSize = 4 << 20

	// maxDatagramSize bounds a single inbound datagram.
	maxDatagramSize = 65536

	// defaultMaxFrameBytes bounds a declared frame length on the
	// camera stream so a corrupt header cannot trigger a huge
	// allocation.
	defaultMaxFrameBytes = 16 << 20

	// Accept-loop backoff bounds.
	defaultAcceptBackoff    = 100 * time.Millisecond
	defaultMaxAcceptBackoff = 2 * time.Second
)

// Gate reports whether the experience has started. Forwarding and
// scene assessment stay inert until it opens.
type Gate interface {
	Started() bool
}
