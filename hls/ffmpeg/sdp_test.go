package ffmpeg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imtaco/video-rtc-exp/hls"
	"github.com/imtaco/video-rtc-exp/rooms"
)

func TestSDPGenerator(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "sdp-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	gen := NewSDPGenerator(tmpDir)

	legs := []hls.SDPLeg{
		{
			SessionID:  "sess-1",
			AudioPorts: rooms.PortPair{RTP: 40000, RTCP: 40001},
			VideoPorts: rooms.PortPair{RTP: 50000, RTCP: 50001},
		},
		{
			SessionID:  "sess-2",
			AudioPorts: rooms.PortPair{RTP: 40002, RTCP: 40003},
			VideoPorts: rooms.PortPair{RTP: 50002, RTCP: 50003},
		},
	}

	t.Run("generates one media section pair per leg", func(t *testing.T) {
		path, err := gen.Generate("room1", 7, legs)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(tmpDir, "room1-7.sdp"), path)

		content, err := os.ReadFile(path)
		require.NoError(t, err)

		sdp := string(content)
		assert.Contains(t, sdp, "m=audio 40000 RTP/AVP 111")
		assert.Contains(t, sdp, "m=video 50000 RTP/AVP 96")
		assert.Contains(t, sdp, "m=audio 40002 RTP/AVP 111")
		assert.Contains(t, sdp, "m=video 50002 RTP/AVP 96")
		assert.Contains(t, sdp, "a=rtpmap:111 opus/48000/2")
		assert.Contains(t, sdp, "a=rtpmap:96 VP8/90000")
	})

	t.Run("generations get distinct files", func(t *testing.T) {
		a, err := gen.Generate("room1", 1, legs)
		require.NoError(t, err)
		b, err := gen.Generate("room1", 2, legs)
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		_, err := gen.Generate("room2", 1, legs)
		require.NoError(t, err)

		require.NoError(t, gen.Delete("room2", 1))
		require.NoError(t, gen.Delete("room2", 1))
	})
}

func TestBuildFilter(t *testing.T) {
	t.Run("single leg passes streams through", func(t *testing.T) {
		f := buildFilter(1)
		assert.Contains(t, f, "[vout]")
		assert.Contains(t, f, "[aout]")
		assert.NotContains(t, f, "amix")
	})

	t.Run("multiple legs stack and mix", func(t *testing.T) {
		f := buildFilter(3)
		assert.Contains(t, f, "hstack=inputs=3")
		assert.Contains(t, f, "amix=inputs=3")
	})
}
