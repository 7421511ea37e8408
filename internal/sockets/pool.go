// Package sockets tracks live websocket subscriber connections so the
// server can push signaling log entries and close everything on
// shutdown.
package sockets

import (
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

type SocketID string

// Socket is the write side of one subscriber connection.
type Socket interface {
	WriteJSON(v interface{}) error
	Close() error
}

type socketImpl struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (s *socketImpl) WriteJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.WriteJSON(v)
}

func (s *socketImpl) Close() error {
	return s.ws.Close()
}

type SocketPool struct {
	mutex   sync.Mutex
	sockets map[SocketID]Socket
}

func NewSocketPool() *SocketPool {
	return &SocketPool{
		sockets: make(map[SocketID]Socket),
	}
}

// AddSocket registers a connection and returns its pool id.
func (p *SocketPool) AddSocket(conn *websocket.Conn) SocketID {
	id := SocketID(uuid.NewString())
	soc := &socketImpl{ws: conn}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.sockets[id] = soc
	return id
}

func (p *SocketPool) GetSocket(id SocketID) Socket {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if conn, contains := p.sockets[id]; contains {
		return conn
	}
	return nil
}

func (p *SocketPool) RemoveSocket(id SocketID) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if conn, contains := p.sockets[id]; contains {
		_ = conn.Close()
		delete(p.sockets, id)
	}
}

func (p *SocketPool) Close() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for id, conn := range p.sockets {
		_ = conn.Close()
		delete(p.sockets, id)
	}
}
