package hub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/CipherHitro/AiMind/internal/logging"
	"github.com/CipherHitro/AiMind/internal/model/user"
)

// envelope is the wire shape of every pushed event.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// DisconnectFunc runs when a user's last realtime connection drops. The lock
// manager registers its ReleaseAll here.
type DisconnectFunc func(ctx context.Context, u user.User)

// Hub tracks connected clients and routes events to personal, organization
// and global scopes. It implements the Broadcaster contracts of the lock
// manager and the notification service.
type Hub struct {
	mu     sync.RWMutex
	byUser map[string]map[*Client]struct{}
	byOrg  map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client

	onDisconnect DisconnectFunc
}

// NewHub creates an empty hub. Run must be started before clients register.
func NewHub() *Hub {
	return &Hub{
		byUser:     make(map[string]map[*Client]struct{}),
		byOrg:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// OnDisconnect sets the cleanup hook invoked when a user fully disconnects.
// Call before Run.
func (h *Hub) OnDisconnect(fn DisconnectFunc) {
	h.onDisconnect = fn
}

// Run processes client registration until the context ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.add(client)
			logging.L().Debug().
				Str("client_id", client.ID).
				Str("user_id", client.User.ID).
				Msg("realtime client connected")
		case client := <-h.unregister:
			lastConnection := h.remove(client)
			logging.L().Debug().
				Str("client_id", client.ID).
				Str("user_id", client.User.ID).
				Msg("realtime client disconnected")
			if lastConnection && h.onDisconnect != nil {
				// Runs outside the loop so its broadcasts cannot stall
				// registration handling.
				go h.onDisconnect(context.Background(), client.User)
			}
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.byUser[c.User.ID] == nil {
		h.byUser[c.User.ID] = make(map[*Client]struct{})
	}
	h.byUser[c.User.ID][c] = struct{}{}

	for _, m := range c.User.Organizations {
		if h.byOrg[m.OrganizationID] == nil {
			h.byOrg[m.OrganizationID] = make(map[*Client]struct{})
		}
		h.byOrg[m.OrganizationID][c] = struct{}{}
	}
}

// remove drops the client and reports whether it was the user's last open
// connection.
func (h *Hub) remove(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	userClients, ok := h.byUser[c.User.ID]
	if !ok {
		return false
	}
	if _, ok := userClients[c]; !ok {
		return false
	}
	delete(userClients, c)
	close(c.send)

	for _, m := range c.User.Organizations {
		if orgClients, ok := h.byOrg[m.OrganizationID]; ok {
			delete(orgClients, c)
			if len(orgClients) == 0 {
				delete(h.byOrg, m.OrganizationID)
			}
		}
	}

	if len(userClients) == 0 {
		delete(h.byUser, c.User.ID)
		return true
	}
	return false
}

// Register adds a connected client to the hub.
func (h *Hub) Register(c *Client) {
	h.register <- c
}

// Unregister detaches a client; triggered by its read pump closing.
func (h *Hub) Unregister(c *Client) {
	h.unregister <- c
}

// ConnectionCount reports the user's currently open connections.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

func (h *Hub) deliver(targets map[*Client]struct{}, event string, payload any) {
	if len(targets) == 0 {
		return
	}
	data, err := json.Marshal(envelope{Event: event, Data: payload})
	if err != nil {
		logging.L().Error().Err(err).Str("event", event).Msg("failed to encode event")
		return
	}
	for c := range targets {
		select {
		case c.send <- data:
		default:
			// Slow consumer, drop rather than block the broadcaster.
		}
	}
}

// ToUser pushes an event to every connection of one user.
func (h *Hub) ToUser(userID, event string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliver(h.byUser[userID], event, payload)
}

// ToOrganization pushes an event to every connected member of an organization.
func (h *Hub) ToOrganization(organizationID, event string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliver(h.byOrg[organizationID], event, payload)
}

// ToAll pushes an event to every connected client.
func (h *Hub) ToAll(event string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	all := make(map[*Client]struct{})
	for _, clients := range h.byUser {
		for c := range clients {
			all[c] = struct{}{}
		}
	}
	h.deliver(all, event, payload)
}
