package storage

import (
	"context"
	"errors"
	"time"

	"github.com/efebausal/bilshare/internal/models"
)

var (
	// ErrNotFound is returned when a referenced row is absent.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned on unique-constraint violations
	// (email, external id, (ride, passenger) request slot).
	ErrDuplicate = errors.New("storage: duplicate")
)

// RideFilter narrows the public ride listing. Zero values mean "no filter".
type RideFilter struct {
	Origin      string
	Destination string
	Day         *time.Time // matches the calendar day [Day, Day+24h)
	MinSeats    int
	MaxPrice    *float64
	WomenOnly   bool
	Now         time.Time // rides departing before this are excluded
	Offset      int
	Limit       int
}

type RideWithDriver struct {
	models.Ride
	Driver models.User `json:"driver"`
}

type RequestWithPassenger struct {
	models.RideRequest
	Passenger models.User `json:"passenger"`
}

type RequestWithRide struct {
	models.RideRequest
	Ride RideWithDriver `json:"ride"`
}

type MessageWithSender struct {
	models.Message
	Sender models.User `json:"sender"`
}

// RideDetail is the full ride view: driver, requests newest first,
// messages oldest first.
type RideDetail struct {
	Ride     models.Ride            `json:"ride"`
	Driver   models.User            `json:"driver"`
	Requests []RequestWithPassenger `json:"requests"`
	Messages []MessageWithSender    `json:"messages"`
}

type RideWithRequests struct {
	models.Ride
	Requests []RequestWithPassenger `json:"requests"`
}

// Queries is every read/write the services need. Implementations exist for
// Postgres and (for tests and DSN-less runs) in memory.
type Queries interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (models.User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
	DeleteUserByExternalID(ctx context.Context, externalID string) error

	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (models.Ride, error)
	// GetRideForUpdate reads the ride with a row lock held until the
	// surrounding transaction commits. Only meaningful inside Transact.
	GetRideForUpdate(ctx context.Context, id string) (models.Ride, error)
	UpdateRide(ctx context.Context, r *models.Ride) error
	ListRides(ctx context.Context, f RideFilter) ([]RideWithDriver, int, error)
	RideDetail(ctx context.Context, id string) (RideDetail, error)
	RidesByDriver(ctx context.Context, driverID string) ([]RideWithRequests, error)
	// CompleteRidesBefore flips ACTIVE/FULL rides departing before cutoff
	// to COMPLETED and reports the ids it touched.
	CompleteRidesBefore(ctx context.Context, cutoff time.Time) ([]string, error)

	CreateRequest(ctx context.Context, rr *models.RideRequest) error
	GetRequest(ctx context.Context, id string) (models.RideRequest, error)
	GetRequestByRidePassenger(ctx context.Context, rideID, passengerID string) (models.RideRequest, error)
	UpdateRequest(ctx context.Context, rr *models.RideRequest) error
	CancelPendingRequests(ctx context.Context, rideID string) error
	HasAcceptedRequest(ctx context.Context, rideID, userID string) (bool, error)
	RequestsByPassenger(ctx context.Context, passengerID string) ([]RequestWithRide, error)

	CreateMessage(ctx context.Context, m *models.Message) error

	CreateReport(ctx context.Context, rep *models.Report) error
}

// Store adds all-or-nothing multi-statement execution. Transact serializes
// conflicting writers: Postgres through row locks taken by GetRideForUpdate,
// the memory store through a single transaction mutex. The fn's Queries must
// not escape the callback.
type Store interface {
	Queries
	Transact(ctx context.Context, fn func(q Queries) error) error
}
