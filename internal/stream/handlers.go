package stream

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// CircuitExists reports whether a circuit can be watched.
type CircuitExists func(circuitID string) bool

func RegisterRoutes(r fiber.Router, hub *Hub, exists CircuitExists) {
	r.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	})

	r.Get("/ws/:circuitID", func(c *fiber.Ctx) error {
		if exists != nil && !exists(c.Params("circuitID")) {
			return fiber.NewError(fiber.StatusNotFound, "circuit not found")
		}
		return c.Next()
	}, websocket.New(func(c *websocket.Conn) {
		circuitID := c.Params("circuitID")
		client := hub.Register(circuitID)
		defer hub.Unregister(client)

		done := make(chan struct{})
		go func() {
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					break
				}
			}
			close(done)
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		hub.Unregister(client)
		<-done
	}))
}
