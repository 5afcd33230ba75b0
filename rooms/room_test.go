package rooms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imtaco/video-rtc-exp/internal/engine"
	"github.com/imtaco/video-rtc-exp/internal/engine/fakes"
)

func newTestRoom() *Room {
	return NewRoom("room-1", fakes.NewRouter("router-1"))
}

func TestFullAVCandidates(t *testing.T) {
	room := newTestRoom()
	room.AddSession("sess-b", "user-b")
	room.AddSession("sess-a", "user-a")

	t.Run("no producers means no candidates", func(t *testing.T) {
		assert.Empty(t, room.FullAVCandidates())
	})

	t.Run("audio only is not a candidate", func(t *testing.T) {
		room.SetProducer("sess-a", engine.MediaKindAudio, "a-audio")
		assert.Empty(t, room.FullAVCandidates())
	})

	t.Run("full pair becomes a candidate", func(t *testing.T) {
		room.SetProducer("sess-a", engine.MediaKindVideo, "a-video")

		cands := room.FullAVCandidates()
		require.Len(t, cands, 1)
		assert.Equal(t, "sess-a", cands[0].SessionID)
		assert.Equal(t, "a-audio", cands[0].AudioProducerID)
		assert.Equal(t, "a-video", cands[0].VideoProducerID)
	})

	t.Run("candidates are sorted by session id", func(t *testing.T) {
		room.SetProducer("sess-b", engine.MediaKindAudio, "b-audio")
		room.SetProducer("sess-b", engine.MediaKindVideo, "b-video")

		cands := room.FullAVCandidates()
		require.Len(t, cands, 2)
		assert.Equal(t, "sess-a", cands[0].SessionID)
		assert.Equal(t, "sess-b", cands[1].SessionID)
	})

	t.Run("stopping one kind removes the candidate", func(t *testing.T) {
		_, ok := room.RemoveProducer("sess-a", engine.MediaKindVideo)
		require.True(t, ok)

		cands := room.FullAVCandidates()
		require.Len(t, cands, 1)
		assert.Equal(t, "sess-b", cands[0].SessionID)
	})
}

func TestSetProducerSupersede(t *testing.T) {
	room := newTestRoom()
	room.AddSession("sess-1", "user-1")

	old := room.SetProducer("sess-1", engine.MediaKindAudio, "audio-1")
	assert.Empty(t, old)

	old = room.SetProducer("sess-1", engine.MediaKindAudio, "audio-2")
	assert.Equal(t, "audio-1", old)

	p, ok := room.ProducerByID("audio-2")
	require.True(t, ok)
	assert.Equal(t, "sess-1", p.SessionID)

	_, ok = room.ProducerByID("audio-1")
	assert.False(t, ok)
}

func TestRebuildGate(t *testing.T) {
	t.Run("idle begins immediately", func(t *testing.T) {
		room := newTestRoom()
		assert.True(t, room.BeginRebuild())
		assert.True(t, room.Rebuilding())
	})

	t.Run("trigger while rebuilding only sets pending", func(t *testing.T) {
		room := newTestRoom()
		require.True(t, room.BeginRebuild())

		assert.False(t, room.BeginRebuild())
		assert.False(t, room.BeginRebuild())

		// one pending bit, one extra run
		assert.True(t, room.FinishRebuild())
		assert.False(t, room.FinishRebuild())
		assert.False(t, room.Rebuilding())
	})

	t.Run("finish without pending returns to idle", func(t *testing.T) {
		room := newTestRoom()
		require.True(t, room.BeginRebuild())

		assert.False(t, room.FinishRebuild())
		assert.True(t, room.BeginRebuild())
	})
}

func TestPipelineState(t *testing.T) {
	room := newTestRoom()

	t.Run("commit stores fingerprint and live pipeline", func(t *testing.T) {
		assert.True(t, room.CommitPipeline("fp-1", &LivePipeline{Generation: 1}))

		assert.Equal(t, "fp-1", room.Fingerprint())
		require.NotNil(t, room.Live())
		assert.Equal(t, uint64(1), room.Live().Generation)
	})

	t.Run("take live detaches the pipeline but keeps the fingerprint", func(t *testing.T) {
		live := room.TakeLive()
		require.NotNil(t, live)
		assert.Nil(t, room.Live())
		assert.Equal(t, "fp-1", room.Fingerprint())
	})

	t.Run("clear fingerprint", func(t *testing.T) {
		room.ClearFingerprint()
		assert.Empty(t, room.Fingerprint())
	})

	t.Run("generations increase", func(t *testing.T) {
		a := room.NextGeneration()
		b := room.NextGeneration()
		assert.Greater(t, b, a)
	})

	t.Run("commit refused on closed room", func(t *testing.T) {
		closing := newTestRoom()
		closing.MarkClosed()

		assert.False(t, closing.CommitPipeline("fp-2", &LivePipeline{Generation: 1}))
		assert.Nil(t, closing.Live())
		assert.Empty(t, closing.Fingerprint())
	})
}

func TestSessionLifecycle(t *testing.T) {
	room := newTestRoom()

	room.AddSession("sess-1", "user-1")
	room.AddSession("sess-2", "user-2")
	assert.Equal(t, 2, room.SessionCount())

	sess, empty := room.RemoveSession("sess-1")
	require.NotNil(t, sess)
	assert.False(t, empty)

	sess, empty = room.RemoveSession("sess-2")
	require.NotNil(t, sess)
	assert.True(t, empty)

	sess, _ = room.RemoveSession("sess-2")
	assert.Nil(t, sess)
}
