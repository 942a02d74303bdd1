package location

import (
	"context"

	"backend-virelia/internal/presence"
	"backend-virelia/internal/stream"
)

// ShareLocation runs the ingest pipeline for one sample:
//
//  1. validate the point, before any write
//  2. resolve the session (create one lazily when no id is given)
//  3. append to the sample stream — failure here aborts, nothing is published
//  4. bump session activity and refresh the presence cache; failures after a
//     successful append surface as IngestError naming the stage, without
//     rolling the sample back
//  5. publish to the fan-out room, only once the sample is durably written
//
// origin is the publishing realtime connection, or nil for REST ingests; it
// is excluded from its own broadcast.
func (s *Service) ShareLocation(ctx context.Context, userID, sessionID string, input Sample, origin *stream.Client) (Sample, Session, error) {
	if err := validatePoint(input.Lat, input.Lng); err != nil {
		return Sample{}, Session{}, err
	}

	sess, err := s.resolveSession(ctx, userID, sessionID)
	if err != nil {
		return Sample{}, Session{}, err
	}

	// append failing first is a plain store error: nothing else has been
	// written yet, so there is no partial state to report
	sample, err := s.insertSample(ctx, userID, sess.ID, input)
	if err != nil {
		return Sample{}, Session{}, err
	}

	var partial *IngestError
	if err := s.TouchActivity(ctx, sess.ID); err != nil {
		partial = &IngestError{Stage: StageTouch, Err: err}
	}
	if err := s.cache.Put(ctx, presence.Entry{
		SessionID:  sess.ID,
		UserID:     userID,
		Latitude:   sample.Lat,
		Longitude:  sample.Lng,
		AccuracyM:  sample.AccuracyM,
		SpeedMps:   sample.SpeedMps,
		BatteryPct: sample.BatteryPct,
		RecordedAt: sample.RecordedAt,
	}); err != nil && partial == nil {
		partial = &IngestError{Stage: StagePresence, Err: err}
	}

	if s.hub != nil {
		s.hub.PublishLocation(sess.ID, userID, sample.Lat, sample.Lng, sample.RecordedAt, origin)
	}

	if partial != nil {
		return sample, sess, partial
	}
	return sample, sess, nil
}

// IngestPoint adapts ShareLocation for the realtime surface, where only the
// bare coordinates travel in the message.
func (s *Service) IngestPoint(ctx context.Context, userID, sessionID string, lat, lng float64, origin *stream.Client) error {
	_, _, err := s.ShareLocation(ctx, userID, sessionID, Sample{Lat: lat, Lng: lng}, origin)
	return err
}

func (s *Service) resolveSession(ctx context.Context, userID, sessionID string) (Session, error) {
	if sessionID == "" {
		return s.CreateSession(ctx, Session{UserID: userID})
	}

	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if !sess.SharedWith(userID) {
		return Session{}, ErrForbidden
	}
	if !sess.IsActive {
		return Session{}, ErrInactive
	}
	return sess, nil
}
