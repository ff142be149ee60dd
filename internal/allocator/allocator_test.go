package allocator

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebausal/bilshare/internal/apperr"
	"github.com/efebausal/bilshare/internal/models"
	"github.com/efebausal/bilshare/internal/storage"
)

func testService(t *testing.T) (*Service, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, nil, nil, logger), store
}

func seedUser(t *testing.T, store *storage.Memory, name string) *models.User {
	t.Helper()
	now := time.Now().UTC()
	u := models.User{
		ID:         uuid.NewString(),
		ExternalID: "ext_" + uuid.NewString(),
		Email:      name + "@bilkent.edu.tr",
		Name:       name,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, store.CreateUser(context.Background(), &u))
	return &u
}

func seedRide(t *testing.T, store *storage.Memory, driver *models.User, seats int) *models.Ride {
	t.Helper()
	now := time.Now().UTC()
	r := models.Ride{
		ID:             uuid.NewString(),
		DriverID:       driver.ID,
		Origin:         "Bilkent",
		Destination:    "Kızılay",
		DateTime:       now.Add(24 * time.Hour),
		SeatsTotal:     seats,
		SeatsAvailable: seats,
		Status:         models.RideActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.CreateRide(context.Background(), &r))
	return &r
}

func TestJoinValidation(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()
	driver := seedUser(t, store, "driver")
	passenger := seedUser(t, store, "passenger")
	ride := seedRide(t, store, driver, 3)

	_, err := svc.Join(ctx, passenger, ride.ID, 0, "")
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))

	_, err = svc.Join(ctx, passenger, ride.ID, 9, "")
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))

	_, err = svc.Join(ctx, passenger, ride.ID, 1, strings.Repeat("ü", 301))
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument), "note over 300 characters")

	// the note bound counts characters, so 300 multibyte runes pass
	req, err := svc.Join(ctx, passenger, ride.ID, 1, strings.Repeat("ü", 300))
	require.NoError(t, err)
	assert.Equal(t, 300, utf8.RuneCountInString(req.Note))

	_, err = svc.Join(ctx, passenger, "missing", 1, "")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = svc.Join(ctx, driver, ride.ID, 1, "")
	assert.True(t, apperr.Is(err, apperr.KindForbidden), "driver cannot join own ride")

	_, err = svc.Join(ctx, passenger, ride.ID, 4, "")
	assert.True(t, apperr.Is(err, apperr.KindConflict), "more seats than available")
}

func TestJoinDuplicateActiveRequest(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()
	driver := seedUser(t, store, "driver")
	passenger := seedUser(t, store, "passenger")
	ride := seedRide(t, store, driver, 3)

	req, err := svc.Join(ctx, passenger, ride.ID, 1, "pick me")
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, req.Status)

	_, err = svc.Join(ctx, passenger, ride.ID, 2, "")
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestJoinReusesTerminalRequest(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()
	driver := seedUser(t, store, "driver")
	passenger := seedUser(t, store, "passenger")
	ride := seedRide(t, store, driver, 3)

	first, err := svc.Join(ctx, passenger, ride.ID, 1, "")
	require.NoError(t, err)
	_, err = svc.Respond(ctx, driver, first.ID, models.RequestRejected)
	require.NoError(t, err)

	second, err := svc.Join(ctx, passenger, ride.ID, 2, "second try")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "terminal request row is reused")
	assert.Equal(t, models.RequestPending, second.Status)
	assert.Equal(t, 2, second.Seats)
	assert.Equal(t, "second try", second.Note)
}

func TestJoinNonActiveRide(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()
	driver := seedUser(t, store, "driver")
	passenger := seedUser(t, store, "passenger")
	ride := seedRide(t, store, driver, 3)

	ride.Status = models.RideCancelled
	require.NoError(t, store.UpdateRide(ctx, ride))

	_, err := svc.Join(ctx, passenger, ride.ID, 1, "")
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestRespondPermissionsAndState(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()
	driver := seedUser(t, store, "driver")
	passenger := seedUser(t, store, "passenger")
	stranger := seedUser(t, store, "stranger")
	ride := seedRide(t, store, driver, 3)

	req, err := svc.Join(ctx, passenger, ride.ID, 1, "")
	require.NoError(t, err)

	_, err = svc.Respond(ctx, driver, req.ID, models.RequestCancelled)
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))

	_, err = svc.Respond(ctx, driver, "missing", models.RequestAccepted)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = svc.Respond(ctx, stranger, req.ID, models.RequestAccepted)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = svc.Respond(ctx, driver, req.ID, models.RequestRejected)
	require.NoError(t, err)

	// no longer pending
	_, err = svc.Respond(ctx, driver, req.ID, models.RequestAccepted)
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	// rejection never moves seats
	got, err := store.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.SeatsAvailable)
	assert.Equal(t, models.RideActive, got.Status)
}

// The scenario from the seat-allocation walk-through: 3 seats, accept 2,
// conflict on 2 more, accept 1 to FULL, cancel reopens.
func TestSeatAllocationScenario(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()
	driver := seedUser(t, store, "driver")
	alice := seedUser(t, store, "alice")
	bob := seedUser(t, store, "bob")
	ride := seedRide(t, store, driver, 3)

	reqA, err := svc.Join(ctx, alice, ride.ID, 2, "")
	require.NoError(t, err)
	accepted, err := svc.Respond(ctx, driver, reqA.ID, models.RequestAccepted)
	require.NoError(t, err)
	assert.Equal(t, models.RequestAccepted, accepted.Status)

	got, err := store.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SeatsAvailable)
	assert.Equal(t, models.RideActive, got.Status)

	_, err = svc.Join(ctx, bob, ride.ID, 2, "")
	assert.True(t, apperr.Is(err, apperr.KindConflict), "2 seats exceed availability")

	reqB, err := svc.Join(ctx, bob, ride.ID, 1, "")
	require.NoError(t, err)
	_, err = svc.Respond(ctx, driver, reqB.ID, models.RequestAccepted)
	require.NoError(t, err)

	got, err = store.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.SeatsAvailable)
	assert.Equal(t, models.RideFull, got.Status)

	cancelled, err := svc.CancelRequest(ctx, alice, reqA.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestCancelled, cancelled.Status)

	got, err = store.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.SeatsAvailable)
	assert.Equal(t, models.RideActive, got.Status)
}

// Two PENDING requests, one remaining seat, both accepted concurrently:
// exactly one may win.
func TestConcurrentAcceptSingleSeat(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()
	driver := seedUser(t, store, "driver")
	alice := seedUser(t, store, "alice")
	bob := seedUser(t, store, "bob")
	ride := seedRide(t, store, driver, 1)

	reqA, err := svc.Join(ctx, alice, ride.ID, 1, "")
	require.NoError(t, err)
	reqB, err := svc.Join(ctx, bob, ride.ID, 1, "")
	require.NoError(t, err)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	for i, id := range []string{reqA.ID, reqB.ID} {
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = svc.Respond(ctx, driver, id, models.RequestAccepted)
		}(i, id)
	}
	wg.Wait()

	var ok, conflict int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.Is(err, apperr.KindConflict):
			conflict++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok, "exactly one accept wins")
	assert.Equal(t, 1, conflict, "the loser gets a conflict")

	got, err := store.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.SeatsAvailable, "seat count never underflows")
	assert.Equal(t, models.RideFull, got.Status)
}

func TestCancelRequestRules(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()
	driver := seedUser(t, store, "driver")
	passenger := seedUser(t, store, "passenger")
	other := seedUser(t, store, "other")
	ride := seedRide(t, store, driver, 2)

	req, err := svc.Join(ctx, passenger, ride.ID, 1, "")
	require.NoError(t, err)

	_, err = svc.CancelRequest(ctx, other, req.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = svc.CancelRequest(ctx, passenger, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	// cancelling a pending request moves no seats
	_, err = svc.CancelRequest(ctx, passenger, req.ID)
	require.NoError(t, err)
	got, err := store.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.SeatsAvailable)

	// already terminal
	_, err = svc.CancelRequest(ctx, passenger, req.ID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestCancelAcceptedOnInertRideMovesNoSeats(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()
	driver := seedUser(t, store, "driver")
	passenger := seedUser(t, store, "passenger")
	ride := seedRide(t, store, driver, 2)

	req, err := svc.Join(ctx, passenger, ride.ID, 1, "")
	require.NoError(t, err)
	_, err = svc.Respond(ctx, driver, req.ID, models.RequestAccepted)
	require.NoError(t, err)

	got, err := store.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	got.Status = models.RideCancelled
	require.NoError(t, store.UpdateRide(ctx, &got))

	cancelled, err := svc.CancelRequest(ctx, passenger, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestCancelled, cancelled.Status)

	after, err := store.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RideCancelled, after.Status, "cancelled ride never reopens")
	assert.Equal(t, 1, after.SeatsAvailable, "no seat refund on an inert ride")
}
