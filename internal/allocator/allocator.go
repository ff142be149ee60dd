// Package allocator is the request-lifecycle and seat-counting state
// machine. Every operation runs in one store transaction; acceptance is the
// only seat-decrementing event and re-checks availability against a
// row-locked read, so two concurrent accepts can never both pass the check
// against a stale count.
package allocator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/efebausal/bilshare/internal/apperr"
	"github.com/efebausal/bilshare/internal/cache"
	"github.com/efebausal/bilshare/internal/events"
	"github.com/efebausal/bilshare/internal/models"
	"github.com/efebausal/bilshare/internal/observability"
	"github.com/efebausal/bilshare/internal/storage"
)

type Service struct {
	store  storage.Store
	cache  *cache.RideList
	events *events.Publisher
	logger *slog.Logger
}

func New(store storage.Store, c *cache.RideList, pub *events.Publisher, logger *slog.Logger) *Service {
	return &Service{store: store, cache: c, events: pub, logger: logger}
}

// Join files a PENDING request for seats on a ride. The seat check here is
// advisory only: it keeps obviously futile requests out, but the
// authoritative check happens again at acceptance, because this read can
// race with another passenger's accept. A terminal request for the same
// (ride, passenger) pair is reused in place.
func (s *Service) Join(ctx context.Context, passenger *models.User, rideID string, seats int, note string) (*models.RideRequest, error) {
	if seats < 1 || seats > 8 {
		return nil, apperr.InvalidArgument("seats must be between 1 and 8")
	}
	note = strings.TrimSpace(note)
	if utf8.RuneCountInString(note) > 300 {
		return nil, apperr.InvalidArgument("note too long")
	}

	var req models.RideRequest
	err := s.store.Transact(ctx, func(q storage.Queries) error {
		ride, err := q.GetRide(ctx, rideID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound("ride not found")
		}
		if err != nil {
			return apperr.Internal(err)
		}
		if ride.Status != models.RideActive {
			return apperr.Conflict("ride is not available")
		}
		if ride.DriverID == passenger.ID {
			return apperr.Forbidden("cannot join your own ride")
		}
		if seats > ride.SeatsAvailable {
			return apperr.Conflict("not enough seats available")
		}

		now := time.Now().UTC()
		existing, err := q.GetRequestByRidePassenger(ctx, rideID, passenger.ID)
		switch {
		case err == nil:
			if existing.Status.Active() {
				return apperr.Conflict("you already have an active request for this ride")
			}
			existing.Seats = seats
			existing.Note = note
			existing.Status = models.RequestPending
			existing.UpdatedAt = now
			if err := q.UpdateRequest(ctx, &existing); err != nil {
				return apperr.Internal(err)
			}
			req = existing
			return nil
		case errors.Is(err, storage.ErrNotFound):
			req = models.RideRequest{
				ID:          uuid.NewString(),
				RideID:      rideID,
				PassengerID: passenger.ID,
				Seats:       seats,
				Note:        note,
				Status:      models.RequestPending,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := q.CreateRequest(ctx, &req); err != nil {
				if errors.Is(err, storage.ErrDuplicate) {
					return apperr.Conflict("you already have an active request for this ride")
				}
				return apperr.Internal(err)
			}
			return nil
		default:
			return apperr.Internal(err)
		}
	})
	if err != nil {
		return nil, err
	}
	observability.RequestsCreated.Inc()
	s.events.Publish(ctx, events.Event{Type: events.RequestCreated, RideID: rideID, RequestID: req.ID, UserID: passenger.ID})
	return &req, nil
}

// Respond applies the driver's decision to a PENDING request. Acceptance
// re-reads the ride under a row lock, re-checks seats, decrements, and flips
// the ride to FULL when the count reaches zero, all in one transaction.
func (s *Service) Respond(ctx context.Context, driver *models.User, requestID string, decision models.RequestStatus) (*models.RideRequest, error) {
	if decision != models.RequestAccepted && decision != models.RequestRejected {
		return nil, apperr.InvalidArgument("decision must be ACCEPTED or REJECTED")
	}

	var req models.RideRequest
	err := s.store.Transact(ctx, func(q storage.Queries) error {
		var err error
		req, err = q.GetRequest(ctx, requestID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound("request not found")
		}
		if err != nil {
			return apperr.Internal(err)
		}
		ride, err := q.GetRideForUpdate(ctx, req.RideID)
		if err != nil {
			return apperr.Internal(err)
		}
		if ride.DriverID != driver.ID {
			return apperr.Forbidden("only the driver can respond")
		}
		if req.Status != models.RequestPending {
			return apperr.Conflict("request is not pending")
		}

		now := time.Now().UTC()
		if decision == models.RequestRejected {
			req.Status = models.RequestRejected
			req.UpdatedAt = now
			if err := q.UpdateRequest(ctx, &req); err != nil {
				return apperr.Internal(err)
			}
			return nil
		}

		// authoritative seat check, against the locked row
		if ride.SeatsAvailable < req.Seats {
			observability.SeatConflicts.Inc()
			return apperr.Conflict("not enough seats available")
		}
		req.Status = models.RequestAccepted
		req.UpdatedAt = now
		if err := q.UpdateRequest(ctx, &req); err != nil {
			return apperr.Internal(err)
		}
		ride.SeatsAvailable -= req.Seats
		if ride.SeatsAvailable == 0 {
			ride.Status = models.RideFull
		} else {
			ride.Status = models.RideActive
		}
		ride.UpdatedAt = now
		if err := q.UpdateRide(ctx, &ride); err != nil {
			return apperr.Internal(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ev := events.Event{RideID: req.RideID, RequestID: req.ID, UserID: driver.ID}
	if decision == models.RequestAccepted {
		observability.RequestsAccepted.Inc()
		ev.Type = events.RequestAccepted
		s.cache.Invalidate(ctx)
	} else {
		observability.RequestsRejected.Inc()
		ev.Type = events.RequestRejected
	}
	s.events.Publish(ctx, ev)
	return &req, nil
}

// CancelRequest lets the passenger withdraw. Cancelling an ACCEPTED request
// restores its seats and always reopens the ride, even from FULL.
func (s *Service) CancelRequest(ctx context.Context, passenger *models.User, requestID string) (*models.RideRequest, error) {
	var req models.RideRequest
	err := s.store.Transact(ctx, func(q storage.Queries) error {
		var err error
		req, err = q.GetRequest(ctx, requestID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound("request not found")
		}
		if err != nil {
			return apperr.Internal(err)
		}
		if req.PassengerID != passenger.ID {
			return apperr.Forbidden("not your request")
		}
		if req.Status.Terminal() {
			return apperr.Conflict("request is already " + strings.ToLower(string(req.Status)))
		}

		wasAccepted := req.Status == models.RequestAccepted
		now := time.Now().UTC()
		req.Status = models.RequestCancelled
		req.UpdatedAt = now
		if err := q.UpdateRequest(ctx, &req); err != nil {
			return apperr.Internal(err)
		}
		if wasAccepted {
			ride, err := q.GetRideForUpdate(ctx, req.RideID)
			if err != nil {
				return apperr.Internal(err)
			}
			// a cancelled or completed ride is inert: the record stays
			// CANCELLED but no seats move and the ride never reopens
			if !ride.Status.Terminal() {
				ride.SeatsAvailable += req.Seats
				ride.Status = models.RideActive
				ride.UpdatedAt = now
				if err := q.UpdateRide(ctx, &ride); err != nil {
					return apperr.Internal(err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.RequestsCancelled.Inc()
	s.cache.Invalidate(ctx)
	s.events.Publish(ctx, events.Event{Type: events.RequestCancelled, RideID: req.RideID, RequestID: req.ID, UserID: passenger.ID})
	return &req, nil
}
