package signal

import (
	"sync"

	"github.com/imtaco/video-rtc-exp/internal/jsonrpc"
	"github.com/imtaco/video-rtc-exp/internal/log"
)

// WSConnManager tracks WebSocket connections per room and pushes server
// notifications to them.
type WSConnManager struct {
	room2clients map[string]map[string]jsonrpc.Conn[sessContext] // roomId -> connId -> conn
	client2room  map[string]string                               // connId -> roomId
	clientsMux   sync.RWMutex
	logger       *log.Logger
}

func NewWSConnMgr(logger *log.Logger) *WSConnManager {
	return &WSConnManager{
		room2clients: make(map[string]map[string]jsonrpc.Conn[sessContext]),
		client2room:  make(map[string]string),
		logger:       logger,
	}
}

func (m *WSConnManager) AddClient(connID, roomID string, peer jsonrpc.Conn[sessContext]) {
	m.clientsMux.Lock()
	defer m.clientsMux.Unlock()

	m.client2room[connID] = roomID

	room, ok := m.room2clients[roomID]
	if !ok {
		room = make(map[string]jsonrpc.Conn[sessContext])
		m.room2clients[roomID] = room
	}
	room[connID] = peer

	m.logger.Debug("Client joined",
		log.String("connId", connID),
		log.String("roomId", roomID),
	)
}

func (m *WSConnManager) RemoveClient(connID string) {
	m.clientsMux.Lock()
	defer m.clientsMux.Unlock()

	roomID, ok := m.client2room[connID]
	if !ok {
		return
	}
	if room, ok := m.room2clients[roomID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(m.room2clients, roomID)
		}
	}

	delete(m.client2room, connID)

	m.logger.Debug("Client removed from room",
		log.String("connId", connID),
		log.String("roomId", roomID),
	)
}

func (m *WSConnManager) RemoveRoom(roomID string) {
	m.clientsMux.Lock()
	defer m.clientsMux.Unlock()

	room, ok := m.room2clients[roomID]
	if !ok {
		return
	}

	for connID := range room {
		delete(m.client2room, connID)
	}
	delete(m.room2clients, roomID)

	m.logger.Debug("Room removed", log.String("roomId", roomID))
}

func (m *WSConnManager) getRoomConns(roomID, exceptConnID string) []jsonrpc.Conn[sessContext] {
	m.clientsMux.RLock()
	defer m.clientsMux.RUnlock()

	clients := m.room2clients[roomID]
	if clients == nil {
		return nil
	}

	conns := make([]jsonrpc.Conn[sessContext], 0, len(clients))
	for connID, client := range clients {
		if connID == exceptConnID {
			continue
		}
		conns = append(conns, client)
	}
	return conns
}

// NotifyRoom pushes a notification to every connection in the room.
func (m *WSConnManager) NotifyRoom(roomID, method string, data any) {
	m.notify(roomID, "", method, data)
}

// NotifyOthers pushes a notification to every connection in the room except
// the originating one.
func (m *WSConnManager) NotifyOthers(roomID, exceptConnID, method string, data any) {
	m.notify(roomID, exceptConnID, method, data)
}

func (m *WSConnManager) notify(roomID, exceptConnID, method string, data any) {
	conns := m.getRoomConns(roomID, exceptConnID)
	if conns == nil {
		return
	}

	for _, conn := range conns {
		ctx := conn.Context().Get().reqCtx
		if err := conn.Notify(ctx, method, data); err != nil {
			m.logger.Error("Failed to send to client",
				log.String("roomId", roomID),
				log.String("method", method),
				log.Error(err),
			)
		}
	}

	m.logger.Debug("Notified room peers",
		log.String("roomId", roomID),
		log.String("method", method))
}
