package stream

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Hub fans events out to rooms. Rooms are named session:<id> and user:<id>;
// a connection joins rooms explicitly and receives every event published to
// them while joined. Delivery is at-most-once and best-effort: there is no
// replay buffer, and a subscriber that joins after a publish never sees it.
//
// With a redis client the hub also bridges session rooms across instances
// over pub/sub, so subscribers connected to another node still receive
// updates.
type Hub struct {
	id    string
	redis *redis.Client

	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

// Client is the subscription handle for one connection. Unregister releases
// it deterministically; delivery stops synchronously with respect to later
// publishes.
type Client struct {
	UserID string
	Send   chan []byte

	rooms map[string]struct{} // guarded by hub.mu
}

func SessionRoom(sessionID string) string { return "session:" + sessionID }
func UserRoom(userID string) string       { return "user:" + userID }

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		id:    uuid.NewString(),
		redis: redisClient,
		rooms: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(userID string) *Client {
	client := &Client{
		UserID: userID,
		Send:   make(chan []byte, 64),
		rooms:  map[string]struct{}{},
	}

	h.mu.Lock()
	h.join(client, UserRoom(userID))
	h.mu.Unlock()
	return client
}

// JoinSession binds the client to the session room and tells existing
// members someone arrived. The joiner does not receive its own user-joined.
func (h *Hub) JoinSession(c *Client, sessionID string) {
	room := SessionRoom(sessionID)

	h.mu.Lock()
	h.join(c, room)
	h.mu.Unlock()

	h.broadcast(room, Event{
		Type:      EventUserJoined,
		SessionID: sessionID,
		UserID:    c.UserID,
	}.encode(), c)
}

func (h *Hub) LeaveSession(c *Client, sessionID string) {
	room := SessionRoom(sessionID)

	h.mu.Lock()
	h.leave(c, room)
	h.mu.Unlock()
}

// Unregister removes the client from every room, notifies session rooms it
// occupied with user-offline, and closes the send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	var sessions []string
	for room := range c.rooms {
		if id, ok := strings.CutPrefix(room, "session:"); ok {
			sessions = append(sessions, id)
		}
		h.leave(c, room)
	}
	h.mu.Unlock()

	for _, sessionID := range sessions {
		h.broadcast(SessionRoom(sessionID), Event{
			Type:      EventUserOffline,
			SessionID: sessionID,
			UserID:    c.UserID,
		}.encode(), nil)
	}
	close(c.Send)
}

// PublishLocation delivers a location update to every member of the session
// room except the publisher. Fire-and-forget: publish failures to individual
// subscribers are never surfaced.
func (h *Hub) PublishLocation(sessionID, userID string, lat, lng float64, recordedAt time.Time, except *Client) {
	payload := Event{
		Type:      EventLocationUpdate,
		SessionID: sessionID,
		UserID:    userID,
		Location:  &Point{Latitude: lat, Longitude: lng},
		Timestamp: recordedAt,
	}.encode()

	h.broadcast(SessionRoom(sessionID), payload, except)
	h.publishRedis(sessionID, payload)
}

func (h *Hub) join(c *Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = map[*Client]struct{}{}
	}
	h.rooms[room][c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leave(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

// broadcast delivers while holding the read lock: sends never block (slow
// consumers are dropped), and Unregister closes Send only after its
// exclusive lock removed the client from every room, so no send can race
// the close.
func (h *Hub) broadcast(room string, payload []byte, except *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[room] {
		if c == except {
			continue
		}
		select {
		case c.Send <- payload:
		default:
			// slow consumer, drop rather than block other rooms
		}
	}
}

// envelope carries an origin id so an instance can ignore its own messages
// echoed back by redis, keeping local delivery single-shot.
type envelope struct {
	Origin    string          `json:"origin"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload"`
}

func (h *Hub) publishRedis(sessionID string, payload []byte) {
	if h.redis == nil {
		return
	}
	env, _ := json.Marshal(envelope{Origin: h.id, SessionID: sessionID, Payload: payload})
	if err := h.redis.Publish(context.Background(), redisChannel(sessionID), env).Err(); err != nil {
		log.Printf("redis publish error: %v", err)
	}
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	pubsub := h.redis.PSubscribe(ctx, "location:*")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("redis message decode error: %v", err)
			continue
		}
		if env.Origin == h.id {
			continue
		}
		sessionID := env.SessionID
		if sessionID == "" {
			sessionID = sessionIDFromChannel(msg.Channel)
		}
		h.broadcast(SessionRoom(sessionID), env.Payload, nil)
	}
}

func redisChannel(sessionID string) string {
	return "location:" + sessionID
}

func sessionIDFromChannel(ch string) string {
	const prefix = "location:"
	if len(ch) <= len(prefix) {
		return ""
	}
	return ch[len(prefix):]
}
