package hlsserver

import (
	"github.com/imtaco/video-rtc-exp/rooms"
)

// RoomIndex resolves a room's current live HLS output directory. Playlists
// and segments are only served while the room has a committed pipeline.
type RoomIndex interface {
	LiveOutputDir(roomID string) (string, bool)
}

type serviceIndex struct {
	svc rooms.Service
}

// NewServiceIndex adapts the room registry into a RoomIndex.
func NewServiceIndex(svc rooms.Service) RoomIndex {
	return &serviceIndex{svc: svc}
}

func (s *serviceIndex) LiveOutputDir(roomID string) (string, bool) {
	room, ok := s.svc.Room(roomID)
	if !ok {
		return "", false
	}
	live := room.Live()
	if live == nil {
		return "", false
	}
	return live.OutputDir, true
}
