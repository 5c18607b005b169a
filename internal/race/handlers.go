package race

import (
	"errors"
	"time"

	"backend-karttracker/internal/auth"
	"backend-karttracker/internal/circuit"
	"backend-karttracker/internal/location"
	"backend-karttracker/internal/shared/geo"

	"github.com/gofiber/fiber/v2"
)

type startRequest struct {
	Position   *geo.Coordinate     `json:"position"`
	Permission location.Permission `json:"permission"`
}

type sampleRequest struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     *float64  `json:"speed"`
	Timestamp time.Time `json:"timestamp"`
}

// RegisterRoutes mounts the per-runner race endpoints under
// /:circuitId/runners/:runnerId. The device resolves permission and its
// first fix locally and sends both with start. An authenticated caller may
// only drive its own runner.
func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	runner := r.Group("/:circuitId/runners/:runnerId")

	runner.Post("/start", authMiddleware, ownRunner, func(c *fiber.Ctx) error {
		var req startRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		perm := req.Permission
		if perm == "" && req.Position != nil {
			perm = location.PermissionGranted
		}
		status, err := svc.Start(c.Context(), c.Params("circuitId"), c.Params("runnerId"), location.Static{
			Permission: perm,
			Position:   req.Position,
		})
		if err != nil {
			return raceError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(status)
	})

	runner.Post("/samples", authMiddleware, ownRunner, func(c *fiber.Ctx) error {
		var req sampleRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		update, err := svc.HandleSample(c.Context(), c.Params("circuitId"), c.Params("runnerId"), location.Sample{
			Coordinate: geo.Coordinate{Latitude: req.Latitude, Longitude: req.Longitude},
			SpeedMps:   req.Speed,
			Timestamp:  req.Timestamp,
		})
		if err != nil {
			return raceError(err)
		}
		return c.JSON(update)
	})

	runner.Post("/finish", authMiddleware, ownRunner, func(c *fiber.Ctx) error {
		entry, err := svc.Finish(c.Context(), c.Params("circuitId"), c.Params("runnerId"))
		if err != nil {
			return raceError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(entry)
	})

	runner.Get("/", func(c *fiber.Ctx) error {
		status, err := svc.Status(c.Params("circuitId"), c.Params("runnerId"))
		if err != nil {
			return raceError(err)
		}
		return c.JSON(status)
	})
}

// ownRunner rejects tokens issued to another runner. Requests without a
// token reach here only when no JWT secret is configured.
func ownRunner(c *fiber.Ctx) error {
	if actor := auth.Actor(c); actor != auth.Anonymous && actor != c.Params("runnerId") {
		return fiber.NewError(fiber.StatusForbidden, "token does not belong to this runner")
	}
	return c.Next()
}

func raceError(err error) error {
	switch {
	case errors.Is(err, circuit.ErrCircuitNotFound), errors.Is(err, circuit.ErrRunnerNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, location.ErrPermissionDenied):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, location.ErrNoFix):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrNotRacing), errors.Is(err, ErrRacingElsewhere):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
