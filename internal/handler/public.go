package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/rail-ticketing/internal/model"
)

// ScheduleReader loads a schedule with its live seat counter.
// *booking.Inventory implements it.
type ScheduleReader interface {
	Schedule(ctx context.Context, id uint64) (model.Schedule, error)
}

// TrainSchedules lists the schedules of a train.
// *repository.ScheduleRepo implements it.
type TrainSchedules interface {
	ListByTrain(ctx context.Context, trainID uint64, from time.Time) ([]model.Schedule, error)
}

// PublicHandler serves unauthenticated browsing endpoints.
type PublicHandler struct {
	Schedules ScheduleReader
	Listing   TrainSchedules
	Now       func() time.Time
}

type availability struct {
	model.Schedule
	Bookable bool `json:"bookable"`
}

// GetSchedule handles GET /v1/schedules/:id and reports how many seats
// are left.
func (h *PublicHandler) GetSchedule(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid schedule id")
	}
	s, err := h.Schedules.Schedule(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, availability{
		Schedule: s,
		Bookable: s.IsOpen() && s.AvailableSeats > 0 && h.now().Before(s.DepartsAt),
	})
}

// ListTrainSchedules handles GET /v1/trains/:id/schedules.  An optional
// from=YYYY-MM-DD query parameter sets the first journey date, today by
// default.
func (h *PublicHandler) ListTrainSchedules(c echo.Context) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid train id")
	}
	from := h.now().UTC().Truncate(24 * time.Hour)
	if v := c.QueryParam("from"); v != "" {
		d, err := time.Parse(dateLayout, v)
		if err != nil {
			return badRequest(c, "from must be YYYY-MM-DD")
		}
		from = d
	}
	list, err := h.Listing.ListByTrain(c.Request().Context(), id, from)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"schedules": list})
}

func (h *PublicHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}
