package history

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, store *Store, authMiddleware fiber.Handler) {
	r.Get("/", func(c *fiber.Ctx) error {
		entries, err := store.History(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(entries)
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		entry, err := store.Race(c.Context(), c.Params("id"))
		if err != nil {
			return raceError(err)
		}
		return c.JSON(entry)
	})

	r.Get("/:id/route", func(c *fiber.Ctx) error {
		feature, err := store.RouteGeoJSON(c.Context(), c.Params("id"))
		if err != nil {
			return raceError(err)
		}
		c.Set(fiber.HeaderContentType, "application/geo+json")
		raw, err := feature.MarshalJSON()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Send(raw)
	})

	r.Delete("/", authMiddleware, func(c *fiber.Ctx) error {
		if err := store.Clear(c.Context()); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func raceError(err error) error {
	if errors.Is(err, ErrRaceNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "race not found")
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
