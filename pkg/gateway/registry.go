package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// idleThreshold is how long a client may go without activity before the
// roster marks it idle.
const idleThreshold = 5 * time.Minute

// ClientRegistry is the roster of live websocket connections. All methods
// are safe for concurrent use.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client)}
}

// Add registers a connected client under its ID.
func (r *ClientRegistry) Add(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.ID] = client
}

// Remove drops a client from the roster. The connection itself is closed
// by the caller.
func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, clientID)
}

// Count reports how many clients are connected, authenticated or not.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// GetAuthenticatedClients snapshots the clients that have completed the
// handshake. Broadcasts go only to these.
func (r *ClientRegistry) GetAuthenticatedClients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	authenticated := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		if client.Authenticated {
			authenticated = append(authenticated, client)
		}
	}
	return authenticated
}

// GetConnectedClients reports per-client status for the status RPC and CLI.
func (r *ClientRegistry) GetConnectedClients() []ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	infos := make([]ClientInfo, 0, len(r.clients))
	for _, client := range r.clients {
		info := ClientInfo{
			ID:            client.ID,
			Authenticated: client.Authenticated,
			ConnectedAt:   client.ConnectedAt,
			LastActivity:  client.LastActivity,
			IPAddress:     client.IPAddress,
			Idle:          now.Sub(client.LastActivity) > idleThreshold,
		}
		if client.RateLimiter != nil {
			info.RequestsLastMinute, info.ActiveRequests = client.RateLimiter.GetStats()
		}
		infos = append(infos, info)
	}
	return infos
}

// UpdateActivity stamps the client's last activity time. Called on every
// inbound message so the idle flag stays honest.
func (r *ClientRegistry) UpdateActivity(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[clientID]; ok {
		client.LastActivity = time.Now()
	}
}

// CloseAll sends every client a close frame and drops the connections.
// Used during shutdown, after new connections are already refused.
func (r *ClientRegistry) CloseAll(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	for id, client := range r.clients {
		_ = client.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		client.Conn.Close()
		delete(r.clients, id)
	}
}
