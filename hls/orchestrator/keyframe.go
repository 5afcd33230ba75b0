package orchestrator

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/imtaco/video-rtc-exp/internal/engine"
	"github.com/imtaco/video-rtc-exp/internal/log"
)

// keyframeCoordinator forces a decodable keyframe on newly created video
// egress consumers. The engine only acknowledges that a request was accepted,
// not that a keyframe was delivered, so every attempt is issued regardless of
// earlier results. Individual failures are logged and never abort the caller.
type keyframeCoordinator struct {
	attempts int
	interval time.Duration
	clock    clockwork.Clock
	logger   *log.Logger
}

func newKeyframeCoordinator(attempts int, interval time.Duration, clock clockwork.Clock, logger *log.Logger) *keyframeCoordinator {
	if attempts <= 0 {
		attempts = 3
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &keyframeCoordinator{
		attempts: attempts,
		interval: interval,
		clock:    clock,
		logger:   logger,
	}
}

func (kc *keyframeCoordinator) retry(ctx context.Context, router engine.Router, roomID, consumerID string) {
	for i := 0; i < kc.attempts; i++ {
		if i > 0 {
			select {
			case <-kc.clock.After(kc.interval):
			case <-ctx.Done():
				return
			}
		}

		keyframeRequests.Add(ctx, 1)
		if err := router.RequestKeyFrame(ctx, consumerID); err != nil {
			keyframeFailures.Add(ctx, 1)
			kc.logger.Warn("Keyframe request failed",
				log.String("roomId", roomID),
				log.String("consumerId", consumerID),
				log.Int("attempt", i+1),
				log.Error(err))
		}
	}
}
