// Package chat is the per-ride message channel, gated by participation:
// only the driver and accepted passengers may write or listen.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/efebausal/bilshare/internal/apperr"
	"github.com/efebausal/bilshare/internal/events"
	"github.com/efebausal/bilshare/internal/models"
	"github.com/efebausal/bilshare/internal/observability"
	"github.com/efebausal/bilshare/internal/storage"
)

const maxContentLen = 500

type Service struct {
	store  storage.Store
	rooms  *Registry
	events *events.Publisher
	logger *slog.Logger
}

func New(store storage.Store, rooms *Registry, pub *events.Publisher, logger *slog.Logger) *Service {
	return &Service{store: store, rooms: rooms, events: pub, logger: logger}
}

// CanParticipate reports whether the user is the ride's driver or holds an
// ACCEPTED request. Used by Send and by the websocket upgrade gate.
func (s *Service) CanParticipate(ctx context.Context, rideID string, user *models.User) (bool, error) {
	ride, err := s.store.GetRide(ctx, rideID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, apperr.NotFound("ride not found")
	}
	if err != nil {
		return false, apperr.Internal(err)
	}
	if ride.DriverID == user.ID {
		return true, nil
	}
	accepted, err := s.store.HasAcceptedRequest(ctx, rideID, user.ID)
	if err != nil {
		return false, apperr.Internal(err)
	}
	return accepted, nil
}

// Send appends an immutable message and fans it out to connected sessions.
func (s *Service) Send(ctx context.Context, sender *models.User, rideID, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > maxContentLen {
		return nil, apperr.InvalidArgument("message must be 1-500 characters")
	}
	ok, err := s.CanParticipate(ctx, rideID, sender)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Forbidden("you must be the driver or an accepted passenger to message")
	}

	m := models.Message{
		ID:        uuid.NewString(),
		RideID:    rideID,
		SenderID:  sender.ID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, &m); err != nil {
		return nil, apperr.Internal(err)
	}
	observability.MessagesSent.Inc()
	s.rooms.Broadcast(rideID, storage.MessageWithSender{Message: m, Sender: *sender})
	s.events.Publish(ctx, events.Event{Type: events.MessageSent, RideID: rideID, UserID: sender.ID})
	return &m, nil
}

func (s *Service) Rooms() *Registry { return s.rooms }
