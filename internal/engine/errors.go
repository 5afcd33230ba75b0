package engine

import "github.com/imtaco/video-rtc-exp/internal/errors"

const (
	ErrRequestFailed          errors.Code = "engine request failed"
	ErrInvalidPayload         errors.Code = "engine invalid payload"
	ErrIncompatibleCapability errors.Code = "incompatible capabilities"
	ErrPoolEmpty              errors.Code = "no engine workers configured"
)
