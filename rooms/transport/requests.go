package transport

// TokenRequest asks for a signaling token bound to a user and room.
type TokenRequest struct {
	// RoomID: 3-32 characters (letters, numbers, hyphens, underscores)
	RoomID string `json:"roomId" binding:"required,roomid"`
	// UserID: UUID v4
	UserID string `json:"userId" binding:"required,userid"`
}

// GetRoomRequest represents the request to get a room (from URL param)
type GetRoomRequest struct {
	RoomID string `uri:"roomId" binding:"required,roomid"`
}
