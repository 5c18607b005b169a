package invite

import (
	"time"

	"backend-karttracker/internal/circuit"

	"github.com/gofiber/fiber/v2"
)

// CircuitLookup is the read side of the registry invites need.
type CircuitLookup interface {
	GetCircuit(circuitID string) (circuit.Circuit, bool)
}

type invitation struct {
	Payload    Payload `json:"payload"`
	QRData     string  `json:"qrData"`
	JoinURL    string  `json:"joinUrl"`
	WebJoinURL string  `json:"webJoinUrl"`
	ViewerURL  string  `json:"viewerUrl"`
	Message    string  `json:"message"`
}

func RegisterRoutes(invites, links fiber.Router, circuits CircuitLookup, l Links) {
	invites.Post("/decode", func(c *fiber.Ctx) error {
		p, err := Decode(c.Body())
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, UserMessage(err))
		}
		if _, ok := circuits.GetCircuit(p.CircuitID); !ok {
			return fiber.NewError(fiber.StatusNotFound, "circuit not found")
		}
		return c.JSON(fiber.Map{
			"payload": p,
			"joinUrl": l.JoinURL(p.CircuitID),
		})
	})

	invites.Get("/:circuitId", func(c *fiber.Ctx) error {
		circuitID := c.Params("circuitId")
		circ, ok := circuits.GetCircuit(circuitID)
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "circuit not found")
		}
		userID := c.Query("userId", circ.HostID)
		p := NewPayload(circuitID, userID, time.Now())
		raw, err := Encode(p)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, UserMessage(err))
		}
		join := l.JoinURL(circuitID)
		return c.JSON(invitation{
			Payload:    p,
			QRData:     string(raw),
			JoinURL:    join,
			WebJoinURL: l.WebJoinURL(circuitID),
			ViewerURL:  l.ViewerURL(circuitID),
			Message:    InvitationMessage(circ.Name, join),
		})
	})

	links.Get("/resolve", func(c *fiber.Ctx) error {
		link, err := ParseDeepLink(c.Query("url"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, UserMessage(err))
		}
		return c.JSON(link)
	})
}
