package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/agro-weather/internal/weather"
)

var validate = validator.New()

// OwnerSaver persists owner records.
type OwnerSaver interface {
	SaveOwner(ctx context.Context, o weather.Owner) error
}

// PointSource lists the current monitoring points.
type PointSource interface {
	MonitoringPoints(ctx context.Context) ([]weather.MonitoringPoint, error)
}

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Service *weather.Service
	Owners  OwnerSaver
	Points  PointSource
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	svc := d.Service

	app.Get("/health", func(c *fiber.Ctx) error {
		status := "ok"
		if svc.Registry().Degraded() {
			status = "degraded"
		}
		return c.JSON(fiber.Map{
			"status":  status,
			"service": "agro-weather",
		})
	})

	v1 := app.Group("/api/v1")

	v1.Put("/owners/:id", func(c *fiber.Ctx) error {
		var req ownerRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		owner := req.toOwner(c.Params("id"))
		if err := d.Owners.SaveOwner(c.UserContext(), owner); err != nil {
			return err
		}
		return c.JSON(owner)
	})

	v1.Get("/owners/:id/weather", func(c *fiber.Ctx) error {
		report, err := svc.GetWeatherForOwner(c.UserContext(), c.Params("id"), c.Query("crop"))
		if err != nil {
			return err
		}
		return c.JSON(report)
	})

	v1.Post("/owners/:id/insights", func(c *fiber.Ctx) error {
		insight, err := svc.GenerateInsights(c.UserContext(), c.Params("id"), c.Query("crop"))
		if err != nil {
			return err
		}
		return c.JSON(insight)
	})

	v1.Get("/weather", func(c *fiber.Ctx) error {
		q, err := parseCoordinatesQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		report, err := svc.GetWeatherByCoordinates(c.UserContext(), q.Lat, q.Lon)
		if err != nil {
			return err
		}
		return c.JSON(report)
	})

	v1.Post("/weather/bulk", func(c *fiber.Ctx) error {
		var req bulkRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		results, err := svc.BulkGetWeather(c.UserContext(), req.OwnerIDs, req.Crop)
		if err != nil {
			return err
		}
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		return c.JSON(fiber.Map{
			"results":   results,
			"succeeded": len(results) - failed,
			"failed":    failed,
		})
	})

	v1.Get("/locations/:id/forecast", func(c *fiber.Ctx) error {
		q := forecastQuery{Days: c.QueryInt("days", 0)}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "days must be between 1 and 16")
		}
		f, err := svc.GetForecast(c.UserContext(), c.Params("id"), q.Days)
		if err != nil {
			return err
		}
		return c.JSON(f)
	})

	v1.Get("/locations/:id/current", func(c *fiber.Ctx) error {
		o, err := svc.GetCurrent(c.UserContext(), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(o)
	})

	v1.Get("/locations/:id/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		daily, err := svc.GetHistorical(c.UserContext(), c.Params("id"), req.From, req.To)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"locationId": c.Params("id"),
			"from":       req.From,
			"to":         req.To,
			"daily":      daily,
		})
	})

	v1.Get("/providers", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"degraded":      svc.Registry().Degraded(),
			"failoverOrder": svc.Registry().FailoverOrder(),
			"providers":     svc.Registry().Descriptors(),
		})
	})

	providerAction := func(action func(name string) error) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if err := action(c.Params("name")); err != nil {
				return err
			}
			return c.JSON(fiber.Map{
				"failoverOrder": svc.Registry().FailoverOrder(),
				"providers":     svc.Registry().Descriptors(),
			})
		}
	}
	v1.Post("/providers/:name/activate", providerAction(svc.Registry().Activate))
	v1.Post("/providers/:name/deactivate", providerAction(svc.Registry().Deactivate))
	v1.Post("/providers/:name/primary", providerAction(svc.Registry().SetPrimary))

	v1.Get("/monitoring-points", func(c *fiber.Ctx) error {
		points, err := d.Points.MonitoringPoints(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"points": points})
	})
}

type ownerRequest struct {
	Name       string `json:"name" validate:"required"`
	Street     string `json:"street"`
	City       string `json:"city"`
	Region     string `json:"region"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country" validate:"required,len=2"`
}

func (r ownerRequest) toOwner(id string) weather.Owner {
	return weather.Owner{
		ID:         id,
		Name:       r.Name,
		Street:     r.Street,
		City:       r.City,
		Region:     r.Region,
		PostalCode: r.PostalCode,
		Country:    r.Country,
	}
}

type bulkRequest struct {
	OwnerIDs []string `json:"owner_ids" validate:"required,min=1,dive,required"`
	Crop     string   `json:"crop"`
}

type forecastQuery struct {
	Days int `validate:"min=1,max=16"`
}

// coordinatesQuery holds the lat/lon query parameters.
type coordinatesQuery struct {
	Lat float64 `validate:"latitude"`
	Lon float64 `validate:"longitude"`
}

func parseCoordinatesQuery(c *fiber.Ctx) (coordinatesQuery, error) {
	var q coordinatesQuery

	latStr, lonStr := c.Query("lat"), c.Query("lon")
	if latStr == "" || lonStr == "" {
		return q, errors.New("lat and lon query parameters are required")
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return q, errors.New("lat must be a number")
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return q, errors.New("lon must be a number")
	}
	q.Lat, q.Lon = lat, lon

	if err := validate.Struct(q); err != nil {
		return q, weather.ErrInvalidCoordinates
	}
	return q, nil
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse RFC3339, a plain date, or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.DateOnly, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339, YYYY-MM-DD or unix seconds")
}
