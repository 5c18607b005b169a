package circuit

import (
	"errors"

	"backend-karttracker/internal/auth"
	"backend-karttracker/internal/location"
	"backend-karttracker/internal/shared/geo"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Hooks let the composition root react to circuit lifecycle events.
type Hooks struct {
	Created func(Circuit)
	Closed  func(circuitID string)
}

type createRequest struct {
	HostID   string          `json:"hostId"`
	Name     string          `json:"name"`
	Position *geo.Coordinate `json:"position"`
}

type joinRequest struct {
	RunnerID string          `json:"runnerId"`
	Position *geo.Coordinate `json:"position"`
}

type standing struct {
	Position int `json:"position"`
	Runner
}

func RegisterRoutes(r fiber.Router, reg *Registry, hooks Hooks, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req createRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.HostID == "" {
			req.HostID = uuid.NewString()
		}
		circ, err := reg.Create(c.Context(), req.HostID, req.Name, locatorFor(req.Position))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if hooks.Created != nil {
			hooks.Created(circ)
		}
		return c.Status(fiber.StatusCreated).JSON(circ)
	})

	r.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(reg.GetAllCircuits())
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		circ, ok := reg.GetCircuit(c.Params("id"))
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "circuit not found")
		}
		return c.JSON(circ)
	})

	r.Get("/:id/ranking", func(c *fiber.Ctx) error {
		circ, ok := reg.GetCircuit(c.Params("id"))
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "circuit not found")
		}
		ranked := Ranking(circ)
		out := make([]standing, len(ranked))
		for i, runner := range ranked {
			out[i] = standing{Position: i + 1, Runner: runner}
		}
		return c.JSON(out)
	})

	r.Post("/:id/join", func(c *fiber.Ctx) error {
		var req joinRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		}
		if req.RunnerID == "" {
			req.RunnerID = uuid.NewString()
		}
		circ, err := reg.Join(c.Context(), c.Params("id"), req.RunnerID, locatorFor(req.Position))
		if err != nil {
			return registryError(err)
		}
		return c.JSON(fiber.Map{"runnerId": req.RunnerID, "circuit": circ})
	})

	r.Put("/:id/runners/:runnerId/override", authMiddleware, func(c *fiber.Ctx) error {
		var m Mutation
		if err := c.BodyParser(&m); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		circ, err := reg.Override(c.Params("id"), c.Params("runnerId"), m, auth.Actor(c))
		if err != nil {
			return registryError(err)
		}
		return c.JSON(circ)
	})

	r.Delete("/:id", authMiddleware, func(c *fiber.Ctx) error {
		id := c.Params("id")
		if !reg.CloseCircuit(id) {
			return fiber.NewError(fiber.StatusNotFound, "circuit not found")
		}
		if hooks.Closed != nil {
			hooks.Closed(id)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

// locatorFor wraps a client-supplied fix. Without one the runner starts with
// no location.
func locatorFor(pos *geo.Coordinate) location.Provider {
	if pos == nil {
		return nil
	}
	return location.Granted(pos)
}

func registryError(err error) error {
	switch {
	case errors.Is(err, ErrCircuitNotFound), errors.Is(err, ErrRunnerNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrLapRegression):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidMutation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
