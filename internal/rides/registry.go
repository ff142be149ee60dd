// Package rides owns the ride lifecycle outside of seat allocation: posting,
// listing, detail views, driver cancellation and the completion sweep.
package rides

import (
	"context"
	"errors"
	"log/slog"
	"math"
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

type Registry struct {
	store    storage.Store
	cache    *cache.RideList
	events   *events.Publisher
	logger   *slog.Logger
	pageSize int
}

func NewRegistry(store storage.Store, c *cache.RideList, pub *events.Publisher, logger *slog.Logger, pageSize int) *Registry {
	return &Registry{store: store, cache: c, events: pub, logger: logger, pageSize: pageSize}
}

type CreateParams struct {
	Origin       string    `json:"origin"`
	Destination  string    `json:"destination"`
	DateTime     time.Time `json:"date_time"`
	SeatsTotal   int       `json:"seats_total"`
	Price        *float64  `json:"price"`
	Notes        string    `json:"notes"`
	MeetingPoint string    `json:"meeting_point"`
	WomenOnly    bool      `json:"women_only"`
}

func (p CreateParams) validate(now time.Time) error {
	if o := strings.TrimSpace(p.Origin); o == "" || utf8.RuneCountInString(o) > 200 {
		return apperr.InvalidArgument("origin must be 1-200 characters")
	}
	if d := strings.TrimSpace(p.Destination); d == "" || utf8.RuneCountInString(d) > 200 {
		return apperr.InvalidArgument("destination must be 1-200 characters")
	}
	if !p.DateTime.After(now) {
		return apperr.InvalidArgument("departure must be in the future")
	}
	if p.SeatsTotal < 1 || p.SeatsTotal > 8 {
		return apperr.InvalidArgument("seats must be between 1 and 8")
	}
	if p.Price != nil && (*p.Price < 0 || *p.Price > 10000) {
		return apperr.InvalidArgument("price must be between 0 and 10000")
	}
	if utf8.RuneCountInString(p.Notes) > 500 {
		return apperr.InvalidArgument("notes too long")
	}
	if utf8.RuneCountInString(p.MeetingPoint) > 200 {
		return apperr.InvalidArgument("meeting point too long")
	}
	return nil
}

func (r *Registry) Create(ctx context.Context, driver *models.User, p CreateParams) (*models.Ride, error) {
	now := time.Now().UTC()
	if err := p.validate(now); err != nil {
		return nil, err
	}
	ride := models.Ride{
		ID:             uuid.NewString(),
		DriverID:       driver.ID,
		Origin:         strings.TrimSpace(p.Origin),
		Destination:    strings.TrimSpace(p.Destination),
		DateTime:       p.DateTime.UTC(),
		SeatsTotal:     p.SeatsTotal,
		SeatsAvailable: p.SeatsTotal,
		Price:          p.Price,
		Notes:          strings.TrimSpace(p.Notes),
		MeetingPoint:   strings.TrimSpace(p.MeetingPoint),
		WomenOnly:      p.WomenOnly,
		Status:         models.RideActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.store.CreateRide(ctx, &ride); err != nil {
		return nil, apperr.Internal(err)
	}
	observability.RidesCreated.Inc()
	r.cache.Invalidate(ctx)
	r.events.Publish(ctx, events.Event{Type: events.RideCreated, RideID: ride.ID, UserID: driver.ID})
	return &ride, nil
}

// ListFilter are the caller-facing listing parameters; Page is 1-based.
type ListFilter struct {
	Origin      string   `json:"origin"`
	Destination string   `json:"destination"`
	Date        string   `json:"date"` // YYYY-MM-DD
	MinSeats    int      `json:"min_seats"`
	MaxPrice    *float64 `json:"max_price"`
	WomenOnly   bool     `json:"women_only"`
	Page        int      `json:"page"`
}

type ListResult struct {
	Rides       []storage.RideWithDriver `json:"rides"`
	Total       int                      `json:"total"`
	TotalPages  int                      `json:"total_pages"`
	CurrentPage int                      `json:"current_page"`
}

func (r *Registry) List(ctx context.Context, f ListFilter) (*ListResult, error) {
	if f.Page < 1 {
		f.Page = 1
	}

	key, _ := r.cache.Key(ctx, f)
	var cached ListResult
	if r.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	sf := storage.RideFilter{
		Origin:      strings.TrimSpace(f.Origin),
		Destination: strings.TrimSpace(f.Destination),
		MinSeats:    f.MinSeats,
		MaxPrice:    f.MaxPrice,
		WomenOnly:   f.WomenOnly,
		Now:         time.Now().UTC(),
		Offset:      (f.Page - 1) * r.pageSize,
		Limit:       r.pageSize,
	}
	if f.Date != "" {
		day, err := time.Parse("2006-01-02", f.Date)
		if err != nil {
			return nil, apperr.InvalidArgument("date must be YYYY-MM-DD")
		}
		sf.Day = &day
	}
	if f.MinSeats < 0 || (f.MaxPrice != nil && *f.MaxPrice < 0) {
		return nil, apperr.InvalidArgument("filters must not be negative")
	}

	list, total, err := r.store.ListRides(ctx, sf)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	res := &ListResult{
		Rides:       list,
		Total:       total,
		TotalPages:  int(math.Ceil(float64(total) / float64(r.pageSize))),
		CurrentPage: f.Page,
	}
	r.cache.Set(ctx, key, res)
	return res, nil
}

func (r *Registry) GetByID(ctx context.Context, id string) (*storage.RideDetail, error) {
	d, err := r.store.RideDetail(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("ride not found")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &d, nil
}

// Cancel sets the ride CANCELLED and cascades every PENDING request to
// CANCELLED in the same transaction. ACCEPTED requests stay as historical
// records; the ride is inert so no seats are refunded.
func (r *Registry) Cancel(ctx context.Context, driver *models.User, rideID string) error {
	err := r.store.Transact(ctx, func(q storage.Queries) error {
		ride, err := q.GetRideForUpdate(ctx, rideID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound("ride not found")
		}
		if err != nil {
			return apperr.Internal(err)
		}
		if ride.DriverID != driver.ID {
			return apperr.Forbidden("only the driver can cancel")
		}
		if !ride.Status.CanTransition(models.RideCancelled) {
			return apperr.Conflict("ride is already " + strings.ToLower(string(ride.Status)))
		}
		ride.Status = models.RideCancelled
		ride.UpdatedAt = time.Now().UTC()
		if err := q.UpdateRide(ctx, &ride); err != nil {
			return apperr.Internal(err)
		}
		if err := q.CancelPendingRequests(ctx, rideID); err != nil {
			return apperr.Internal(err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	observability.RidesCancelled.Inc()
	r.cache.Invalidate(ctx)
	r.events.Publish(ctx, events.Event{Type: events.RideCancelled, RideID: rideID, UserID: driver.ID})
	return nil
}

type Dashboard struct {
	CreatedRides []storage.RideWithRequests `json:"created_rides"`
	MyRequests   []storage.RequestWithRide  `json:"my_requests"`
}

func (r *Registry) Dashboard(ctx context.Context, user *models.User) (*Dashboard, error) {
	created, err := r.store.RidesByDriver(ctx, user.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	requests, err := r.store.RequestsByPassenger(ctx, user.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &Dashboard{CreatedRides: created, MyRequests: requests}, nil
}

// CompletePastRides flips ACTIVE/FULL rides whose departure has passed to
// COMPLETED. Run periodically; the listing already excludes past rides, so
// this only affects dashboards and detail views.
func (r *Registry) CompletePastRides(ctx context.Context, now time.Time) (int, error) {
	ids, err := r.store.CompleteRidesBefore(ctx, now.UTC())
	if err != nil {
		return 0, apperr.Internal(err)
	}
	if len(ids) > 0 {
		observability.RidesCompleted.Add(float64(len(ids)))
		r.cache.Invalidate(ctx)
		for _, id := range ids {
			r.events.Publish(ctx, events.Event{Type: events.RideCompleted, RideID: id})
		}
		r.logger.Info("completed past rides", "count", len(ids))
	}
	return len(ids), nil
}
