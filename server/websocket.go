package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/researchintegrity/elis-backend/jobs"
)

// WebSocket timeout constants following Gorilla best practices
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Buffered updates per client before slow clients drop messages
	clientSendBuffer = 64
)

// jobUpdateMessage is pushed to WebSocket clients on every job transition
type jobUpdateMessage struct {
	Type      string    `json:"type"` // always "job_update"
	Job       *jobs.Job `json:"job"`
	Timestamp int64     `json:"timestamp"`
}

// wsClient is one connected WebSocket consumer. Owner scoping applies to
// the stream the same way it does to the list endpoint.
type wsClient struct {
	conn  *websocket.Conn
	send  chan interface{}
	owner string
	admin bool
	once  sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// handleWebSocket upgrades the connection and streams job updates
func (s *ElisServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  2048,
		WriteBufferSize: 2048,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn:  conn,
		send:  make(chan interface{}, clientSendBuffer),
		owner: ownerFrom(r),
		admin: isAdmin(r),
	}

	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()

	s.logger.Debugw("WebSocket client connected", "owner", client.owner)

	s.wg.Add(2)
	go s.writePump(client)
	go s.readPump(client)
}

// writePump drains the client's send channel onto the connection
func (s *ElisServer) writePump(client *wsClient) {
	defer s.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes control frames until the peer disconnects
func (s *ElisServer) readPump(client *wsClient) {
	defer func() {
		s.removeClient(client)
		s.wg.Done()
	}()

	client.conn.SetReadLimit(1024)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *ElisServer) removeClient(client *wsClient) {
	s.mu.Lock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		client.close()
	}
	s.mu.Unlock()
}

// startJobBroadcaster subscribes to the queue and fans job updates out to
// connected clients
func (s *ElisServer) startJobBroadcaster() {
	updates := s.queue.Subscribe()

	s.wg.Add(1)
	go func() {
		defer func() {
			s.queue.Unsubscribe(updates)
			s.wg.Done()
		}()

		for {
			select {
			case <-s.done:
				return
			case job, ok := <-updates:
				if !ok {
					return
				}
				s.broadcastJobUpdate(job)
			}
		}
	}()
}

// broadcastJobUpdate sends a job update to every client allowed to see it.
// Slow clients drop updates rather than block the broadcaster.
func (s *ElisServer) broadcastJobUpdate(job *jobs.Job) {
	msg := jobUpdateMessage{
		Type:      "job_update",
		Job:       job,
		Timestamp: time.Now().Unix(),
	}

	// sends stay under the read lock so a concurrent removeClient cannot
	// close a channel mid-send
	s.mu.RLock()
	defer s.mu.RUnlock()

	for client := range s.clients {
		if !client.admin && client.owner != job.Owner {
			continue
		}
		select {
		case client.send <- msg:
		default:
			// Channel full - skip
		}
	}
}
