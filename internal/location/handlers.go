package location

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"backend-virelia/internal/presence"

	"github.com/gofiber/fiber/v2"
)

type ShareRequest struct {
	Latitude    *float64  `json:"latitude"`
	Longitude   *float64  `json:"longitude"`
	SessionID   string    `json:"session_id"`
	AccuracyM   float64   `json:"accuracy_m"`
	AltitudeM   float64   `json:"altitude_m"`
	SpeedMps    float64   `json:"speed_mps"`
	Heading     float64   `json:"heading"`
	BatteryPct  float64   `json:"battery_pct"`
	NetworkType string    `json:"network_type"`
	RecordedAt  time.Time `json:"recorded_at"`
}

type CreateSessionRequest struct {
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	IsPublic         bool     `json:"is_public"`
	UpdateIntervalMs int      `json:"update_interval_ms"`
	AutoStopEnabled  bool     `json:"auto_stop_enabled"`
	AutoStopMinutes  int      `json:"auto_stop_minutes"`
	ShareWith        []string `json:"share_with"`
}

func RegisterRoutes(r fiber.Router, svc *Service, cache *presence.Cache, authMiddleware fiber.Handler) {
	r.Post("/share", authMiddleware, func(c *fiber.Ctx) error {
		var req ShareRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.Latitude == nil || req.Longitude == nil {
			return fiber.NewError(fiber.StatusBadRequest, "latitude and longitude required")
		}

		sample, sess, err := svc.ShareLocation(c.Context(), userID(c), req.SessionID, Sample{
			Lat:         *req.Latitude,
			Lng:         *req.Longitude,
			AccuracyM:   req.AccuracyM,
			AltitudeM:   req.AltitudeM,
			SpeedMps:    req.SpeedMps,
			Heading:     req.Heading,
			BatteryPct:  req.BatteryPct,
			NetworkType: req.NetworkType,
			RecordedAt:  req.RecordedAt,
		}, nil)
		if err != nil {
			return ingestErrorResponse(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"sample": sample, "session": sess})
	})

	r.Post("/sessions", authMiddleware, func(c *fiber.Ctx) error {
		var req CreateSessionRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "name required")
		}

		sess, err := svc.CreateSession(c.Context(), Session{
			UserID:           userID(c),
			Name:             req.Name,
			Description:      req.Description,
			IsPublic:         req.IsPublic,
			UpdateIntervalMs: req.UpdateIntervalMs,
			AutoStopEnabled:  req.AutoStopEnabled,
			AutoStopMinutes:  req.AutoStopMinutes,
			ShareWith:        req.ShareWith,
		})
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(sess)
	})

	r.Get("/sessions", authMiddleware, func(c *fiber.Ctx) error {
		var activeOnly *bool
		if v := c.Query("is_active"); v != "" {
			active, err := strconv.ParseBool(v)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "is_active must be boolean")
			}
			activeOnly = &active
		}

		sessions, err := svc.ListSessions(c.Context(), userID(c), activeOnly)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(sessions)
	})

	r.Patch("/sessions/:id", authMiddleware, func(c *fiber.Ctx) error {
		var patch SessionPatch
		if err := c.BodyParser(&patch); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		sess, err := svc.UpdateSession(c.Context(), c.Params("id"), userID(c), patch)
		if err != nil {
			return errorResponse(err)
		}
		return c.JSON(sess)
	})

	r.Get("/sessions/:id/summary", authMiddleware, func(c *fiber.Ctx) error {
		summary, err := svc.SessionSummary(c.Context(), c.Params("id"), userID(c))
		if err != nil {
			return errorResponse(err)
		}
		return c.JSON(summary)
	})

	r.Get("/history", authMiddleware, func(c *fiber.Ctx) error {
		filter := HistoryFilter{SessionID: c.Query("session_id")}
		if v := c.Query("start"); v != "" {
			start, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "start must be RFC3339")
			}
			filter.Start = start
		}
		if v := c.Query("end"); v != "" {
			end, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "end must be RFC3339")
			}
			filter.End = end
		}

		samples, err := svc.QueryHistory(c.Context(), userID(c), filter, c.QueryInt("limit"))
		if err != nil {
			return errorResponse(err)
		}
		return c.JSON(samples)
	})

	r.Get("/latest", authMiddleware, func(c *fiber.Ctx) error {
		ids := splitIDs(c.Query("session_ids"))
		if len(ids) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "session_ids required")
		}

		latest, err := svc.LatestPerSession(c.Context(), userID(c), ids)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(latest)
	})

	r.Get("/nearby", authMiddleware, func(c *fiber.Ctx) error {
		lat := c.QueryFloat("lat")
		lng := c.QueryFloat("lng")
		radius := c.QueryFloat("radius_m", 1000)

		samples, err := svc.Nearby(c.Context(), lat, lng, radius, c.QueryInt("limit"))
		if err != nil {
			return errorResponse(err)
		}
		return c.JSON(samples)
	})

	r.Get("/presence/:sessionID/:userID", authMiddleware, func(c *fiber.Ctx) error {
		if _, err := svc.VisibleSession(c.Context(), c.Params("sessionID"), userID(c)); err != nil {
			return errorResponse(err)
		}

		entry, err := cache.Get(c.Context(), c.Params("sessionID"), c.Params("userID"))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if entry == nil {
			return fiber.NewError(fiber.StatusNotFound, "no live position")
		}
		return c.JSON(entry)
	})
}

func splitIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

func errorResponse(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, ErrInactive):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}

// ingestErrorResponse distinguishes partial ingest failures so callers can
// see which stage broke before deciding to retry.
func ingestErrorResponse(c *fiber.Ctx, err error) error {
	var partial *IngestError
	if errors.As(err, &partial) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": partial.Error(),
			"stage": partial.Stage,
		})
	}
	return errorResponse(err)
}
