// Package reports records user-filed abuse reports. Records are append-only
// audit facts; there is no dedup or rate limiting.
package reports

import (
	"context"
	"errors"
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

type Service struct {
	store  storage.Store
	events *events.Publisher
}

func New(store storage.Store, pub *events.Publisher) *Service {
	return &Service{store: store, events: pub}
}

type FileParams struct {
	TargetID string `json:"target_id"`
	RideID   string `json:"ride_id"`
	Reason   string `json:"reason"`
	Details  string `json:"details"`
}

func (s *Service) File(ctx context.Context, filer *models.User, p FileParams) (*models.Report, error) {
	reason := strings.TrimSpace(p.Reason)
	if reason == "" || utf8.RuneCountInString(reason) > 100 {
		return nil, apperr.InvalidArgument("reason must be 1-100 characters")
	}
	if utf8.RuneCountInString(p.Details) > 1000 {
		return nil, apperr.InvalidArgument("details too long")
	}
	if p.TargetID == filer.ID {
		return nil, apperr.InvalidArgument("cannot report yourself")
	}
	if _, err := s.store.GetUser(ctx, p.TargetID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFound("target user not found")
		}
		return nil, apperr.Internal(err)
	}

	rep := models.Report{
		ID:        uuid.NewString(),
		FilerID:   filer.ID,
		TargetID:  p.TargetID,
		Reason:    reason,
		Details:   strings.TrimSpace(p.Details),
		CreatedAt: time.Now().UTC(),
	}
	if rid := strings.TrimSpace(p.RideID); rid != "" {
		rep.RideID = &rid
	}
	if err := s.store.CreateReport(ctx, &rep); err != nil {
		return nil, apperr.Internal(err)
	}
	observability.ReportsFiled.Inc()
	s.events.Publish(ctx, events.Event{Type: events.ReportFiled, UserID: filer.ID})
	return &rep, nil
}
