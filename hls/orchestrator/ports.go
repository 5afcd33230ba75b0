package orchestrator

import (
	"fmt"
	"math/rand/v2"
	"net"

	"github.com/imtaco/video-rtc-exp/hls"
	"github.com/imtaco/video-rtc-exp/internal/log"
	"github.com/imtaco/video-rtc-exp/rooms"
)

// portAllocatorImpl probes the OS for free RTP/RTCP port pairs in a
// configured range. No reservation is held between probe and use.
type portAllocatorImpl struct {
	portRangeStart int
	portRangeEnd   int
	logger         *log.Logger
}

// NewPortAllocator creates an allocator over [portRangeStart, portRangeEnd].
// Audio and video pipelines use separate allocators with disjoint ranges.
func NewPortAllocator(portRangeStart, portRangeEnd int, logger *log.Logger) hls.PortAllocator {
	return &portAllocatorImpl{
		portRangeStart: portRangeStart,
		portRangeEnd:   portRangeEnd,
		logger:         logger,
	}
}

// Allocate finds a free RTP/RTCP port pair within the configured range.
// The RTP port is even, RTCP is RTP + 1.
func (pa *portAllocatorImpl) Allocate() (rooms.PortPair, error) {
	maxAttempts := 10

	for attempt := 0; attempt < maxAttempts; attempt++ {
		// Generate random even port in range (RTP must be even)
		port := pa.portRangeStart + rand.IntN(pa.portRangeEnd-pa.portRangeStart+1) // #nosec G404 -- weak random is acceptable for port selection, no security impact

		if port%2 != 0 {
			port--
		}

		// Make sure we have room for RTCP (+1)
		if port >= pa.portRangeEnd {
			continue
		}

		if pa.testRTPRTCPPorts(port) {
			return rooms.PortPair{RTP: port, RTCP: port + 1}, nil
		}
	}

	// Fallback: try ephemeral port range
	pa.logger.Warn("Could not find free RTP/RTCP port pair in configured range, trying ephemeral range",
		log.Int("start", pa.portRangeStart),
		log.Int("end", pa.portRangeEnd))

	ephemeralStart := 49152
	ephemeralEnd := 65534 // -1 to leave room for RTCP

	for i := 0; i < 20; i++ {
		port := ephemeralStart + rand.IntN(ephemeralEnd-ephemeralStart+1) // #nosec G404 -- weak random is acceptable for port selection, no security impact

		if port%2 != 0 {
			port--
		}

		if pa.testRTPRTCPPorts(port) {
			return rooms.PortPair{RTP: port, RTCP: port + 1}, nil
		}
	}

	return rooms.PortPair{}, fmt.Errorf("could not find available RTP/RTCP port pair")
}

// testUDPPort tests if a specific UDP port is available
func (pa *portAllocatorImpl) testUDPPort(port int) bool {
	addr := &net.UDPAddr{
		IP:   net.IPv4(0, 0, 0, 0),
		Port: port,
	}

	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return false
	}
	defer conn.Close()
	return true
}

// testRTPRTCPPorts tests if both RTP (even) and RTCP (odd, +1) ports are available
func (pa *portAllocatorImpl) testRTPRTCPPorts(rtpPort int) bool {
	rtcpPort := rtpPort + 1

	if !pa.testUDPPort(rtpPort) {
		return false
	}

	return pa.testUDPPort(rtcpPort)
}
