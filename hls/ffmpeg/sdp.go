package ffmpeg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/imtaco/video-rtc-exp/hls"
)

const (
	opusPayloadType = 111
	vp8PayloadType  = 96
)

// SDPGenerator generates SDP files describing the RTP legs FFmpeg reads from.
type SDPGenerator struct {
	sdpDir string
}

// NewSDPGenerator creates a new SDPGenerator
func NewSDPGenerator(sdpDir string) *SDPGenerator {
	if sdpDir == "" {
		sdpDir = "/tmp/sdp"
	}
	return &SDPGenerator{
		sdpDir: sdpDir,
	}
}

// Generate creates an SDP file for one pipeline generation. Each leg
// contributes an opus audio section and a VP8 video section, in leg order.
func (sg *SDPGenerator) Generate(roomID string, generation uint64, legs []hls.SDPLeg) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, `v=0
o=- 0 0 IN IP4 127.0.0.1
s=Room %s Mix
c=IN IP4 127.0.0.1
t=0 0
`, roomID)

	for _, leg := range legs {
		fmt.Fprintf(&b, "m=audio %d RTP/AVP %d\n", leg.AudioPorts.RTP, opusPayloadType)
		fmt.Fprintf(&b, "a=rtpmap:%d opus/48000/2\n", opusPayloadType)
		fmt.Fprintf(&b, "m=video %d RTP/AVP %d\n", leg.VideoPorts.RTP, vp8PayloadType)
		fmt.Fprintf(&b, "a=rtpmap:%d VP8/90000\n", vp8PayloadType)
	}

	if err := os.MkdirAll(sg.sdpDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create SDP directory: %w", err)
	}

	sdpPath := filepath.Join(sg.sdpDir, sdpFileName(roomID, generation))
	if err := os.WriteFile(sdpPath, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write SDP file: %w", err)
	}

	return sdpPath, nil
}

// Delete removes the SDP file for the given room and generation
func (sg *SDPGenerator) Delete(roomID string, generation uint64) error {
	sdpPath := filepath.Join(sg.sdpDir, sdpFileName(roomID, generation))
	err := os.Remove(sdpPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete SDP file: %w", err)
	}
	return nil
}

func sdpFileName(roomID string, generation uint64) string {
	return fmt.Sprintf("%s-%d.sdp", roomID, generation)
}
