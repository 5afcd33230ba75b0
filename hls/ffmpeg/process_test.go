package ffmpeg

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/imtaco/video-rtc-exp/internal/log"
)

func TestProcessInfoWithTestCommand(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "process-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	sdpPath := filepath.Join(tmpDir, "test.sdp")
	outputDir := filepath.Join(tmpDir, "out")

	require.NoError(t, os.WriteFile(sdpPath, []byte("v=0\n"), 0600))
	require.NoError(t, os.MkdirAll(outputDir, 0755))

	newProc := func() *ProcessInfo {
		return NewProcessInfo(
			"test-room",
			1,
			1,
			sdpPath,
			outputDir,
			50*time.Millisecond,
			200*time.Millisecond,
			log.NewNop(),
		)
	}

	t.Run("can start and stop with echo command", func(t *testing.T) {
		proc := newProc()

		started := make(chan struct{}, 10)
		proc.SpawnFFmpeg = func(_, _ string, _, _ int) *exec.Cmd {
			started <- struct{}{}
			return exec.Command("echo", "test")
		}

		proc.Start()

		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("process didn't start")
		}

		proc.Stop()
	})

	t.Run("respawns after unexpected exit", func(t *testing.T) {
		proc := newProc()

		started := make(chan struct{}, 10)
		proc.SpawnFFmpeg = func(_, _ string, _, _ int) *exec.Cmd {
			started <- struct{}{}
			// exits immediately, which counts as unexpected
			return exec.Command("true")
		}

		proc.Start()

		for i := 0; i < 2; i++ {
			select {
			case <-started:
			case <-time.After(time.Second):
				t.Fatalf("spawn %d never happened", i)
			}
		}

		proc.Stop()
	})

	t.Run("stop is safe to call twice", func(t *testing.T) {
		proc := newProc()
		proc.SpawnFFmpeg = func(_, _ string, _, _ int) *exec.Cmd {
			return exec.Command("sleep", "60")
		}

		proc.Start()
		time.Sleep(20 * time.Millisecond)

		proc.Stop()
		proc.Stop()
	})
}
