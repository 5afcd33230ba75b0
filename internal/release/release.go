// Package release holds the uniform best-effort teardown primitive: resource
// cleanup (process kill, transport close, producer close) logs and swallows
// failures so that cleanup of one resource never blocks cleanup of the next.
package release

import (
	"github.com/imtaco/video-rtc-exp/internal/log"
)

func BestEffort(logger *log.Logger, op string, fn func() error, fields ...log.Field) {
	if err := fn(); err != nil {
		fields = append(fields, log.String("op", op), log.Error(err))
		logger.Warn("best-effort release failed", fields...)
	}
}
