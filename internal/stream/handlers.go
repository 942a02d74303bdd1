package stream

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// TokenValidator resolves a handshake token to a user id. Supplied by the
// auth service; the hub itself never inspects credentials.
type TokenValidator func(token string) (string, error)

// Ingestor is the slice of the location service the realtime surface needs:
// running the ingest pipeline for share-location messages and checking that
// a session is still worth joining.
type Ingestor interface {
	IngestPoint(ctx context.Context, userID, sessionID string, lat, lng float64, origin *Client) error
	SessionJoinable(ctx context.Context, userID, sessionID string) error
}

func RegisterRoutes(r fiber.Router, hub *Hub, validate TokenValidator, ingest Ingestor) {
	r.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		token := c.Query("token")
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
		}
		userID, err := validate(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
		}
		c.Locals("user_id", userID)
		return c.Next()
	})

	r.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("user_id").(string)
		client := hub.Register(userID)

		done := make(chan struct{})
		go func() {
			for msg := range client.Send {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					break
				}
			}
			close(done)
		}()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				break
			}
			dispatch(hub, ingest, client, raw)
		}

		// unregister as soon as the read side sees the disconnect, so room
		// members get user-offline right away; closing Send also ends the
		// writer's range, which <-done then waits out
		hub.Unregister(client)
		<-done
	}))
}

func dispatch(hub *Hub, ingest Ingestor, client *Client, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		sendError(client, "malformed message")
		return
	}

	switch msg.Type {
	case msgJoinSession:
		if msg.SessionID == "" {
			sendError(client, "session_id required")
			return
		}
		if err := ingest.SessionJoinable(context.Background(), client.UserID, msg.SessionID); err != nil {
			sendError(client, "session not joinable")
			return
		}
		hub.JoinSession(client, msg.SessionID)
	case msgLeaveSession:
		hub.LeaveSession(client, msg.SessionID)
	case msgShareLocation:
		if err := ingest.IngestPoint(context.Background(), client.UserID, msg.SessionID, msg.Latitude, msg.Longitude, client); err != nil {
			sendError(client, "location rejected")
		}
	default:
		sendError(client, "unknown message type")
	}
}

func sendError(client *Client, message string) {
	select {
	case client.Send <- Event{Type: EventError, Message: message}.encode():
	default:
	}
}
