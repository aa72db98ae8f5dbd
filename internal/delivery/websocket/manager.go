package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// TopicSession carries gameplay pushes: node_ready, task_update.
	TopicSession = "session"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
)

// Manager fans gameplay events out to the websocket clients of each session.
// All connection bookkeeping happens on the run loop.
type Manager struct {
	clients    map[uuid.UUID]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan Message
	mu         sync.RWMutex
}

// Client is one websocket connection, bound to a game session.
type Client struct {
	ID        uuid.UUID
	SessionID string
	Conn      *websocket.Conn
	Manager   *Manager
	Send      chan []byte
	Topics    map[string]bool
}

// Message is the envelope written to clients.
type Message struct {
	Type    string      `json:"type"`
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
	Target  string      `json:"target,omitempty"` // session ID or "broadcast"
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checks are handled by the CORS layer in front of the router.
		return true
	},
}

func NewManager() *Manager {
	return &Manager{
		clients:    make(map[uuid.UUID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message),
	}
}

// Start launches the manager's run loop.
func (m *Manager) Start() {
	go m.run()
}

func (m *Manager) run() {
	for {
		select {
		case client := <-m.register:
			m.mu.Lock()
			m.clients[client.ID] = client
			m.mu.Unlock()
			log.Debug().
				Str("clientID", client.ID.String()).
				Str("sessionID", client.SessionID).
				Msg("websocket client connected")

		case client := <-m.unregister:
			m.mu.Lock()
			if _, ok := m.clients[client.ID]; ok {
				close(client.Send)
				delete(m.clients, client.ID)
				log.Debug().
					Str("clientID", client.ID.String()).
					Msg("websocket client disconnected")
			}
			m.mu.Unlock()

		case message := <-m.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				log.Error().Err(err).Msg("websocket: marshal message")
				continue
			}

			// Write lock: a client with a full Send buffer is dropped
			// from the map right here.
			m.mu.Lock()
			for _, client := range m.clients {
				if !client.IsSubscribed(message.Topic) {
					continue
				}
				if message.Target != "" && message.Target != "broadcast" && client.SessionID != message.Target {
					continue
				}
				select {
				case client.Send <- data:
				default:
					close(client.Send)
					delete(m.clients, client.ID)
				}
			}
			m.mu.Unlock()
		}
	}
}

// Handler upgrades HTTP connections. Clients identify their session with the
// session_id query parameter and start subscribed to the session topic.
func (m *Manager) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			http.Error(w, "missing session_id", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Msg("websocket: upgrade failed")
			return
		}

		client := &Client{
			ID:        uuid.New(),
			SessionID: sessionID,
			Conn:      conn,
			Manager:   m,
			Send:      make(chan []byte, 256),
			Topics:    map[string]bool{TopicSession: true},
		}

		m.register <- client

		go client.readPump()
		go client.writePump()
	})
}

// SendToSession pushes a message to every client attached to the session.
// It satisfies both the game service notifier and the task manager notifier.
func (m *Manager) SendToSession(sessionID, messageType string, payload interface{}) {
	m.broadcast <- Message{
		Type:    messageType,
		Topic:   TopicSession,
		Payload: payload,
		Target:  sessionID,
	}
}

// Broadcast sends a message to every client subscribed to the topic.
func (m *Manager) Broadcast(messageType, topic string, payload interface{}) {
	m.broadcast <- Message{
		Type:    messageType,
		Topic:   topic,
		Payload: payload,
		Target:  "broadcast",
	}
}

func (c *Client) readPump() {
	defer func() {
		c.Manager.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("websocket: read error")
			}
			break
		}

		var cmd struct {
			Action string `json:"action"`
			Topic  string `json:"topic"`
		}
		if err := json.Unmarshal(message, &cmd); err != nil {
			log.Debug().Err(err).Msg("websocket: bad client command")
			continue
		}

		switch cmd.Action {
		case "subscribe":
			c.Subscribe(cmd.Topic)
		case "unsubscribe":
			c.Unsubscribe(cmd.Topic)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Drain anything already queued into the same frame batch.
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) Subscribe(topic string) {
	c.Topics[topic] = true
}

func (c *Client) Unsubscribe(topic string) {
	delete(c.Topics, topic)
}

func (c *Client) IsSubscribed(topic string) bool {
	return c.Topics[topic]
}
