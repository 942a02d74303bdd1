package location

import (
	"context"
	"errors"
	"strconv"
	"time"

	"backend-virelia/internal/db"
	"backend-virelia/internal/presence"
	"backend-virelia/internal/shared/geo"
	"backend-virelia/internal/stream"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type Service struct {
	db    db.Querier
	hub   *stream.Hub
	cache *presence.Cache
}

func NewService(db db.Querier, hub *stream.Hub, cache *presence.Cache) *Service {
	return &Service{db: db, hub: hub, cache: cache}
}

const sessionColumns = `id, user_id, name, COALESCE(description,''), is_active, is_public,
		       start_time, end_time, last_activity, update_interval_ms,
		       auto_stop_enabled, COALESCE(auto_stop_minutes,0), COALESCE(share_with,'{}'), created_at`

// CreateSession starts a new sharing session. The publish interval is
// clamped to the accepted range; zero means "use the default cadence".
func (s *Service) CreateSession(ctx context.Context, input Session) (Session, error) {
	input.ID = uuid.NewString()
	input.IsActive = true
	input.UpdateIntervalMs = clampUpdateInterval(input.UpdateIntervalMs)
	if input.Name == "" {
		input.Name = defaultSessionName
	}

	now := time.Now()
	input.StartTime = now
	input.LastActivity = now

	row := s.db.QueryRow(ctx, `
		INSERT INTO location_sessions
			(id, user_id, name, description, is_active, is_public, start_time, last_activity,
			 update_interval_ms, auto_stop_enabled, auto_stop_minutes, share_with)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at
	`, input.ID, input.UserID, input.Name, input.Description, input.IsActive, input.IsPublic,
		input.StartTime, input.LastActivity, input.UpdateIntervalMs,
		input.AutoStopEnabled, input.AutoStopMinutes, input.ShareWith)
	if err := row.Scan(&input.CreatedAt); err != nil {
		return Session{}, err
	}
	return input, nil
}

// TouchActivity moves last_activity forward. GREATEST keeps it monotonic
// even when a delayed ingest and the reaper race on the same row.
func (s *Service) TouchActivity(ctx context.Context, sessionID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE location_sessions
		SET last_activity = GREATEST(last_activity, now())
		WHERE id=$1
	`, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate flips the session inactive and stamps end_time. Idempotent:
// a second call is a no-op, not an error.
func (s *Service) Deactivate(ctx context.Context, sessionID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE location_sessions
		SET is_active=false, end_time=now()
		WHERE id=$1 AND is_active
	`, sessionID)
	return err
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM location_sessions WHERE id=$1
	`, sessionID)

	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *Service) ListSessions(ctx context.Context, userID string, activeOnly *bool) ([]Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM location_sessions WHERE user_id=$1`
	args := []any{userID}
	if activeOnly != nil {
		query += ` AND is_active=$2`
		args = append(args, *activeOnly)
	}
	query += ` ORDER BY start_time DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// UpdateSession applies a partial update on behalf of the owner. Setting
// is_active=false is the explicit stop path.
func (s *Service) UpdateSession(ctx context.Context, sessionID, userID string, patch SessionPatch) (Session, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.UserID != userID {
		return Session{}, ErrForbidden
	}

	if patch.Name != "" {
		sess.Name = patch.Name
	}
	if patch.Description != "" {
		sess.Description = patch.Description
	}
	if patch.IsPublic != nil {
		sess.IsPublic = *patch.IsPublic
	}
	if patch.ShareWith != nil {
		sess.ShareWith = *patch.ShareWith
	}

	_, err = s.db.Exec(ctx, `
		UPDATE location_sessions
		SET name=$2, description=$3, is_public=$4, share_with=$5
		WHERE id=$1
	`, sess.ID, sess.Name, sess.Description, sess.IsPublic, sess.ShareWith)
	if err != nil {
		return Session{}, err
	}

	if patch.IsActive != nil && !*patch.IsActive && sess.IsActive {
		if err := s.Deactivate(ctx, sess.ID); err != nil {
			return Session{}, err
		}
		sess.IsActive = false
		now := time.Now()
		sess.EndTime = &now
	}
	return sess, nil
}

// FindActiveStale returns active sessions that already meet a stop
// condition: idle past the orphan cutoff, or idle past their own auto-stop
// window. The predicate lives in SQL so a batch is all candidates; sessions
// that are merely idle can never crowd genuine ones out of the LIMIT.
func (s *Service) FindActiveStale(ctx context.Context, orphanAfter time.Duration, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	orphanCutoff := time.Now().Add(-orphanAfter)

	rows, err := s.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM location_sessions
		WHERE is_active
		  AND (last_activity < $1
		       OR (auto_stop_enabled AND auto_stop_minutes > 0
		           AND last_activity < now() - make_interval(mins => auto_stop_minutes)))
		ORDER BY last_activity
		LIMIT $2
	`, orphanCutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SessionJoinable reports whether the realtime room for a session accepts
// userID as a new subscriber. Private sessions admit only the owner and the
// share list; deactivated sessions keep their existing subscribers but take
// no new ones.
func (s *Service) SessionJoinable(ctx context.Context, userID, sessionID string) error {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.Visible(userID) {
		return ErrForbidden
	}
	if !sess.IsActive {
		return ErrInactive
	}
	return nil
}

// VisibleSession loads a session and enforces the observer visibility rule,
// shared by the summary and presence read paths.
func (s *Service) VisibleSession(ctx context.Context, sessionID, userID string) (Session, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if !sess.Visible(userID) {
		return Session{}, ErrForbidden
	}
	return sess, nil
}

// Append writes one sample after verifying the session exists and is shared
// with the caller. Writes are never rejected for rate.
func (s *Service) Append(ctx context.Context, userID, sessionID string, input Sample) (Sample, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return Sample{}, err
	}
	if !sess.SharedWith(userID) {
		return Sample{}, ErrForbidden
	}
	if !sess.IsActive {
		return Sample{}, ErrInactive
	}
	return s.insertSample(ctx, userID, sessionID, input)
}

func (s *Service) insertSample(ctx context.Context, userID, sessionID string, input Sample) (Sample, error) {
	if err := validatePoint(input.Lat, input.Lng); err != nil {
		return Sample{}, err
	}
	if input.RecordedAt.IsZero() {
		input.RecordedAt = time.Now()
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO location_samples
			(session_id, user_id, location, accuracy_m, altitude_m, speed_mps, heading,
			 battery_pct, network_type, recorded_at)
		VALUES ($1,$2, ST_SetSRID(ST_MakePoint($3,$4), 4326)::geography, $5,$6,$7,$8,$9,$10,$11)
		RETURNING id, created_at
	`, sessionID, userID, input.Lng, input.Lat, input.AccuracyM, input.AltitudeM,
		input.SpeedMps, input.Heading, input.BatteryPct, input.NetworkType, input.RecordedAt)
	if err := row.Scan(&input.ID, &input.CreatedAt); err != nil {
		return Sample{}, err
	}
	input.SessionID = sessionID
	input.UserID = userID
	return input, nil
}

const sampleColumns = `id, session_id, user_id, ST_Y(location::geometry), ST_X(location::geometry),
		       COALESCE(accuracy_m,0), COALESCE(altitude_m,0), COALESCE(speed_mps,0),
		       COALESCE(heading,0), COALESCE(battery_pct,0), COALESCE(network_type,''),
		       recorded_at, created_at`

// QueryHistory returns the caller's samples newest first, bounded by limit.
func (s *Service) QueryHistory(ctx context.Context, userID string, filter HistoryFilter, limit int) ([]Sample, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	query := `
		SELECT ` + sampleColumns + `
		FROM location_samples WHERE user_id=$1`
	args := []any{userID}
	if filter.SessionID != "" {
		args = append(args, filter.SessionID)
		query += ` AND session_id=$2`
	}
	if !filter.Start.IsZero() {
		args = append(args, filter.Start)
		query += ` AND recorded_at >= $` + strconv.Itoa(len(args))
	}
	if !filter.End.IsZero() {
		args = append(args, filter.End)
		query += ` AND recorded_at <= $` + strconv.Itoa(len(args))
	}
	args = append(args, limit)
	query += ` ORDER BY recorded_at DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSamples(rows)
}

// LatestPerSession answers "where is everyone right now" from the durable
// store, one most-recent sample per session. Sessions the caller may not
// observe are silently absent from the result.
func (s *Service) LatestPerSession(ctx context.Context, userID string, sessionIDs []string) (map[string]Sample, error) {
	if len(sessionIDs) == 0 {
		return map[string]Sample{}, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT ON (p.session_id) p.id, p.session_id, p.user_id,
		       ST_Y(p.location::geometry), ST_X(p.location::geometry),
		       COALESCE(p.accuracy_m,0), COALESCE(p.altitude_m,0), COALESCE(p.speed_mps,0),
		       COALESCE(p.heading,0), COALESCE(p.battery_pct,0), COALESCE(p.network_type,''),
		       p.recorded_at, p.created_at
		FROM location_samples p
		JOIN location_sessions s ON s.id = p.session_id
		WHERE p.session_id = ANY($1)
		  AND (s.is_public OR s.user_id = $2 OR $2 = ANY(s.share_with))
		ORDER BY p.session_id, p.recorded_at DESC
	`, sessionIDs, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples, err := scanSamples(rows)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]Sample, len(samples))
	for _, sample := range samples {
		latest[sample.SessionID] = sample
	}
	return latest, nil
}

// Nearby returns the latest sample of each public active session within
// radiusM meters of the given point.
func (s *Service) Nearby(ctx context.Context, lat, lng, radiusM float64, limit int) ([]Sample, error) {
	if err := validatePoint(lat, lng); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT ON (p.session_id) p.id, p.session_id, p.user_id,
		       ST_Y(p.location::geometry), ST_X(p.location::geometry),
		       COALESCE(p.accuracy_m,0), COALESCE(p.altitude_m,0), COALESCE(p.speed_mps,0),
		       COALESCE(p.heading,0), COALESCE(p.battery_pct,0), COALESCE(p.network_type,''),
		       p.recorded_at, p.created_at
		FROM location_samples p
		JOIN location_sessions s ON s.id = p.session_id
		WHERE s.is_public AND s.is_active
		  AND ST_DWithin(p.location, ST_SetSRID(ST_MakePoint($1,$2), 4326)::geography, $3)
		ORDER BY p.session_id, p.recorded_at DESC
		LIMIT $4
	`, lng, lat, radiusM, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSamples(rows)
}

// SessionSummary aggregates a session's track: point count, duration and
// total ground distance. Only visible to the owner, the share list, or
// anyone when the session is public.
func (s *Service) SessionSummary(ctx context.Context, sessionID, userID string) (Summary, error) {
	sess, err := s.VisibleSession(ctx, sessionID, userID)
	if err != nil {
		return Summary{}, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT ST_Y(location::geometry), ST_X(location::geometry), recorded_at
		FROM location_samples
		WHERE session_id=$1
		ORDER BY recorded_at
	`, sessionID)
	if err != nil {
		return Summary{}, err
	}
	defer rows.Close()

	var (
		count            int
		distanceM        float64
		prevLat, prevLng float64
	)
	for rows.Next() {
		var lat, lng float64
		var recordedAt time.Time
		if err := rows.Scan(&lat, &lng, &recordedAt); err != nil {
			return Summary{}, err
		}
		if count > 0 {
			distanceM += geo.HaversineKm(prevLat, prevLng, lat, lng) * 1000
		}
		prevLat, prevLng = lat, lng
		count++
	}
	if err := rows.Err(); err != nil {
		return Summary{}, err
	}

	duration := time.Since(sess.StartTime)
	if sess.EndTime != nil {
		duration = sess.EndTime.Sub(sess.StartTime)
	}
	avgSpeed := 0.0
	if duration.Seconds() > 0 {
		avgSpeed = distanceM / duration.Seconds()
	}

	return Summary{
		SessionID:     sessionID,
		PointCount:    count,
		DistanceM:     distanceM,
		DurationSec:   int64(duration.Seconds()),
		AverageSpeedM: avgSpeed,
	}, nil
}

func scanSession(row pgx.Row) (Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Name, &sess.Description, &sess.IsActive,
		&sess.IsPublic, &sess.StartTime, &sess.EndTime, &sess.LastActivity,
		&sess.UpdateIntervalMs, &sess.AutoStopEnabled, &sess.AutoStopMinutes,
		&sess.ShareWith, &sess.CreatedAt)
	return sess, err
}

func scanSamples(rows pgx.Rows) ([]Sample, error) {
	var samples []Sample
	for rows.Next() {
		var p Sample
		if err := rows.Scan(&p.ID, &p.SessionID, &p.UserID, &p.Lat, &p.Lng, &p.AccuracyM,
			&p.AltitudeM, &p.SpeedMps, &p.Heading, &p.BatteryPct, &p.NetworkType,
			&p.RecordedAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		samples = append(samples, p)
	}
	return samples, rows.Err()
}

