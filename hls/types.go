package hls

import (
	"context"

	"github.com/imtaco/video-rtc-exp/rooms"
)

// SDPLeg is one candidate's media endpoints as fed to the transcoder: the
// local RTP ports its audio and video streams arrive on.
type SDPLeg struct {
	SessionID  string
	AudioPorts rooms.PortPair
	VideoPorts rooms.PortPair
}

// PortAllocator hands out free RTP/RTCP port pairs from a configured range.
type PortAllocator interface {
	Allocate() (rooms.PortPair, error)
}

// Transcoder runs the mixing process for one pipeline generation. Start
// returns a handle for termination and the directory the HLS output lands in.
type Transcoder interface {
	Start(ctx context.Context, roomID string, generation uint64, legs []SDPLeg) (rooms.TranscodeHandle, string, error)

	// RemoveOutput deletes all published output for a room.
	RemoveOutput(roomID string) error
}
