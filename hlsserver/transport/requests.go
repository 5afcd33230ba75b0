package transport

// GetPlaylistRequest identifies a live room's playlist (from URL param).
type GetPlaylistRequest struct {
	// RoomID: 3-32 characters (letters, numbers, hyphens, underscores) - required
	RoomID string `uri:"roomId" binding:"required,roomid"`
}

// GetSegmentRequest identifies one media segment of a live room.
type GetSegmentRequest struct {
	RoomID  string `uri:"roomId" binding:"required,roomid"`
	Segment string `uri:"file" binding:"required"`
}
