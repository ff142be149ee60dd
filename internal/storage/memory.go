package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/efebausal/bilshare/internal/models"
)

// Memory keeps everything in maps behind one mutex. Transact holds the mutex
// for the whole callback and restores a pre-transaction snapshot on error, so
// it gives the same serialized, all-or-nothing semantics the services rely on
// from Postgres. Used by tests and as the fallback when no DSN is configured.
type Memory struct {
	mu sync.Mutex
	d  memData
}

type memData struct {
	users    map[string]models.User
	rides    map[string]models.Ride
	requests map[string]models.RideRequest
	messages map[string]models.Message
	reports  map[string]models.Report
}

func NewMemory() *Memory {
	return &Memory{d: memData{
		users:    make(map[string]models.User),
		rides:    make(map[string]models.Ride),
		requests: make(map[string]models.RideRequest),
		messages: make(map[string]models.Message),
		reports:  make(map[string]models.Report),
	}}
}

func (d memData) clone() memData {
	c := memData{
		users:    make(map[string]models.User, len(d.users)),
		rides:    make(map[string]models.Ride, len(d.rides)),
		requests: make(map[string]models.RideRequest, len(d.requests)),
		messages: make(map[string]models.Message, len(d.messages)),
		reports:  make(map[string]models.Report, len(d.reports)),
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.rides {
		c.rides[k] = v
	}
	for k, v := range d.requests {
		c.requests[k] = v
	}
	for k, v := range d.messages {
		c.messages[k] = v
	}
	for k, v := range d.reports {
		c.reports[k] = v
	}
	return c
}

func (m *Memory) Transact(ctx context.Context, fn func(q Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.d.clone()
	if err := fn(&memQueries{d: &m.d}); err != nil {
		m.d = snapshot
		return err
	}
	return nil
}

// Every top-level call locks for its duration; memQueries assumes the lock
// is already held.
func (m *Memory) locked() (*memQueries, func()) {
	m.mu.Lock()
	return &memQueries{d: &m.d}, m.mu.Unlock
}

func (m *Memory) CreateUser(ctx context.Context, u *models.User) error {
	q, done := m.locked()
	defer done()
	return q.CreateUser(ctx, u)
}

func (m *Memory) GetUser(ctx context.Context, id string) (models.User, error) {
	q, done := m.locked()
	defer done()
	return q.GetUser(ctx, id)
}

func (m *Memory) GetUserByExternalID(ctx context.Context, externalID string) (models.User, error) {
	q, done := m.locked()
	defer done()
	return q.GetUserByExternalID(ctx, externalID)
}

func (m *Memory) UpdateUser(ctx context.Context, u *models.User) error {
	q, done := m.locked()
	defer done()
	return q.UpdateUser(ctx, u)
}

func (m *Memory) DeleteUserByExternalID(ctx context.Context, externalID string) error {
	q, done := m.locked()
	defer done()
	return q.DeleteUserByExternalID(ctx, externalID)
}

func (m *Memory) CreateRide(ctx context.Context, r *models.Ride) error {
	q, done := m.locked()
	defer done()
	return q.CreateRide(ctx, r)
}

func (m *Memory) GetRide(ctx context.Context, id string) (models.Ride, error) {
	q, done := m.locked()
	defer done()
	return q.GetRide(ctx, id)
}

func (m *Memory) GetRideForUpdate(ctx context.Context, id string) (models.Ride, error) {
	q, done := m.locked()
	defer done()
	return q.GetRideForUpdate(ctx, id)
}

func (m *Memory) UpdateRide(ctx context.Context, r *models.Ride) error {
	q, done := m.locked()
	defer done()
	return q.UpdateRide(ctx, r)
}

func (m *Memory) ListRides(ctx context.Context, f RideFilter) ([]RideWithDriver, int, error) {
	q, done := m.locked()
	defer done()
	return q.ListRides(ctx, f)
}

func (m *Memory) RideDetail(ctx context.Context, id string) (RideDetail, error) {
	q, done := m.locked()
	defer done()
	return q.RideDetail(ctx, id)
}

func (m *Memory) RidesByDriver(ctx context.Context, driverID string) ([]RideWithRequests, error) {
	q, done := m.locked()
	defer done()
	return q.RidesByDriver(ctx, driverID)
}

func (m *Memory) CompleteRidesBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	q, done := m.locked()
	defer done()
	return q.CompleteRidesBefore(ctx, cutoff)
}

func (m *Memory) CreateRequest(ctx context.Context, rr *models.RideRequest) error {
	q, done := m.locked()
	defer done()
	return q.CreateRequest(ctx, rr)
}

func (m *Memory) GetRequest(ctx context.Context, id string) (models.RideRequest, error) {
	q, done := m.locked()
	defer done()
	return q.GetRequest(ctx, id)
}

func (m *Memory) GetRequestByRidePassenger(ctx context.Context, rideID, passengerID string) (models.RideRequest, error) {
	q, done := m.locked()
	defer done()
	return q.GetRequestByRidePassenger(ctx, rideID, passengerID)
}

func (m *Memory) UpdateRequest(ctx context.Context, rr *models.RideRequest) error {
	q, done := m.locked()
	defer done()
	return q.UpdateRequest(ctx, rr)
}

func (m *Memory) CancelPendingRequests(ctx context.Context, rideID string) error {
	q, done := m.locked()
	defer done()
	return q.CancelPendingRequests(ctx, rideID)
}

func (m *Memory) HasAcceptedRequest(ctx context.Context, rideID, userID string) (bool, error) {
	q, done := m.locked()
	defer done()
	return q.HasAcceptedRequest(ctx, rideID, userID)
}

func (m *Memory) RequestsByPassenger(ctx context.Context, passengerID string) ([]RequestWithRide, error) {
	q, done := m.locked()
	defer done()
	return q.RequestsByPassenger(ctx, passengerID)
}

func (m *Memory) CreateMessage(ctx context.Context, msg *models.Message) error {
	q, done := m.locked()
	defer done()
	return q.CreateMessage(ctx, msg)
}

func (m *Memory) CreateReport(ctx context.Context, rep *models.Report) error {
	q, done := m.locked()
	defer done()
	return q.CreateReport(ctx, rep)
}

type memQueries struct {
	d *memData
}

func (q *memQueries) CreateUser(ctx context.Context, u *models.User) error {
	for _, other := range q.d.users {
		if other.Email == u.Email || other.ExternalID == u.ExternalID {
			return ErrDuplicate
		}
	}
	q.d.users[u.ID] = *u
	return nil
}

func (q *memQueries) GetUser(ctx context.Context, id string) (models.User, error) {
	u, ok := q.d.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return u, nil
}

func (q *memQueries) GetUserByExternalID(ctx context.Context, externalID string) (models.User, error) {
	for _, u := range q.d.users {
		if u.ExternalID == externalID {
			return u, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (q *memQueries) UpdateUser(ctx context.Context, u *models.User) error {
	if _, ok := q.d.users[u.ID]; !ok {
		return ErrNotFound
	}
	for id, other := range q.d.users {
		if id != u.ID && other.Email == u.Email {
			return ErrDuplicate
		}
	}
	q.d.users[u.ID] = *u
	return nil
}

func (q *memQueries) DeleteUserByExternalID(ctx context.Context, externalID string) error {
	for id, u := range q.d.users {
		if u.ExternalID != externalID {
			continue
		}
		delete(q.d.users, id)
		// mirror the schema's ON DELETE CASCADE
		for rid, r := range q.d.rides {
			if r.DriverID == id {
				delete(q.d.rides, rid)
			}
		}
		for qid, rr := range q.d.requests {
			if rr.PassengerID == id {
				delete(q.d.requests, qid)
				continue
			}
			if _, ok := q.d.rides[rr.RideID]; !ok {
				delete(q.d.requests, qid)
			}
		}
		for mid, msg := range q.d.messages {
			if msg.SenderID == id {
				delete(q.d.messages, mid)
				continue
			}
			if _, ok := q.d.rides[msg.RideID]; !ok {
				delete(q.d.messages, mid)
			}
		}
		for repID, rep := range q.d.reports {
			if rep.FilerID == id || rep.TargetID == id {
				delete(q.d.reports, repID)
			}
		}
	}
	return nil
}

func (q *memQueries) CreateRide(ctx context.Context, r *models.Ride) error {
	q.d.rides[r.ID] = *r
	return nil
}

func (q *memQueries) GetRide(ctx context.Context, id string) (models.Ride, error) {
	r, ok := q.d.rides[id]
	if !ok {
		return models.Ride{}, ErrNotFound
	}
	return r, nil
}

func (q *memQueries) GetRideForUpdate(ctx context.Context, id string) (models.Ride, error) {
	// the transaction mutex already serializes writers
	return q.GetRide(ctx, id)
}

func (q *memQueries) UpdateRide(ctx context.Context, r *models.Ride) error {
	if _, ok := q.d.rides[r.ID]; !ok {
		return ErrNotFound
	}
	q.d.rides[r.ID] = *r
	return nil
}

func matchesFilter(r models.Ride, f RideFilter) bool {
	if r.Status != models.RideActive && r.Status != models.RideFull {
		return false
	}
	if r.DateTime.Before(f.Now) {
		return false
	}
	if f.Origin != "" && !strings.Contains(strings.ToLower(r.Origin), strings.ToLower(f.Origin)) {
		return false
	}
	if f.Destination != "" && !strings.Contains(strings.ToLower(r.Destination), strings.ToLower(f.Destination)) {
		return false
	}
	if f.Day != nil {
		day := f.Day.Truncate(24 * time.Hour)
		if r.DateTime.Before(day) || !r.DateTime.Before(day.Add(24*time.Hour)) {
			return false
		}
	}
	if f.MinSeats > 0 && r.SeatsAvailable < f.MinSeats {
		return false
	}
	if f.MaxPrice != nil && (r.Price == nil || *r.Price > *f.MaxPrice) {
		return false
	}
	if f.WomenOnly && !r.WomenOnly {
		return false
	}
	return true
}

func (q *memQueries) ListRides(ctx context.Context, f RideFilter) ([]RideWithDriver, int, error) {
	var all []RideWithDriver
	for _, r := range q.d.rides {
		if !matchesFilter(r, f) {
			continue
		}
		all = append(all, RideWithDriver{Ride: r, Driver: q.d.users[r.DriverID]})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].DateTime.Before(all[j].DateTime) })
	total := len(all)
	if f.Offset >= total {
		return nil, total, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (q *memQueries) RideDetail(ctx context.Context, id string) (RideDetail, error) {
	r, ok := q.d.rides[id]
	if !ok {
		return RideDetail{}, ErrNotFound
	}
	d := RideDetail{Ride: r, Driver: q.d.users[r.DriverID]}
	d.Requests = q.requestsForRide(id)
	for _, m := range q.d.messages {
		if m.RideID == id {
			d.Messages = append(d.Messages, MessageWithSender{Message: m, Sender: q.d.users[m.SenderID]})
		}
	}
	sort.Slice(d.Messages, func(i, j int) bool { return d.Messages[i].CreatedAt.Before(d.Messages[j].CreatedAt) })
	return d, nil
}

func (q *memQueries) requestsForRide(rideID string) []RequestWithPassenger {
	var out []RequestWithPassenger
	for _, rr := range q.d.requests {
		if rr.RideID == rideID {
			out = append(out, RequestWithPassenger{RideRequest: rr, Passenger: q.d.users[rr.PassengerID]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (q *memQueries) RidesByDriver(ctx context.Context, driverID string) ([]RideWithRequests, error) {
	var out []RideWithRequests
	for _, r := range q.d.rides {
		if r.DriverID == driverID {
			out = append(out, RideWithRequests{Ride: r, Requests: q.requestsForRide(r.ID)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateTime.After(out[j].DateTime) })
	return out, nil
}

func (q *memQueries) CompleteRidesBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	for id, r := range q.d.rides {
		if (r.Status == models.RideActive || r.Status == models.RideFull) && r.DateTime.Before(cutoff) {
			r.Status = models.RideCompleted
			r.UpdatedAt = cutoff
			q.d.rides[id] = r
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (q *memQueries) CreateRequest(ctx context.Context, rr *models.RideRequest) error {
	for _, other := range q.d.requests {
		if other.RideID == rr.RideID && other.PassengerID == rr.PassengerID {
			return ErrDuplicate
		}
	}
	q.d.requests[rr.ID] = *rr
	return nil
}

func (q *memQueries) GetRequest(ctx context.Context, id string) (models.RideRequest, error) {
	rr, ok := q.d.requests[id]
	if !ok {
		return models.RideRequest{}, ErrNotFound
	}
	return rr, nil
}

func (q *memQueries) GetRequestByRidePassenger(ctx context.Context, rideID, passengerID string) (models.RideRequest, error) {
	for _, rr := range q.d.requests {
		if rr.RideID == rideID && rr.PassengerID == passengerID {
			return rr, nil
		}
	}
	return models.RideRequest{}, ErrNotFound
}

func (q *memQueries) UpdateRequest(ctx context.Context, rr *models.RideRequest) error {
	if _, ok := q.d.requests[rr.ID]; !ok {
		return ErrNotFound
	}
	q.d.requests[rr.ID] = *rr
	return nil
}

func (q *memQueries) CancelPendingRequests(ctx context.Context, rideID string) error {
	for id, rr := range q.d.requests {
		if rr.RideID == rideID && rr.Status == models.RequestPending {
			rr.Status = models.RequestCancelled
			rr.UpdatedAt = time.Now().UTC()
			q.d.requests[id] = rr
		}
	}
	return nil
}

func (q *memQueries) HasAcceptedRequest(ctx context.Context, rideID, userID string) (bool, error) {
	for _, rr := range q.d.requests {
		if rr.RideID == rideID && rr.PassengerID == userID && rr.Status == models.RequestAccepted {
			return true, nil
		}
	}
	return false, nil
}

func (q *memQueries) RequestsByPassenger(ctx context.Context, passengerID string) ([]RequestWithRide, error) {
	var out []RequestWithRide
	for _, rr := range q.d.requests {
		if rr.PassengerID != passengerID {
			continue
		}
		ride := q.d.rides[rr.RideID]
		out = append(out, RequestWithRide{
			RideRequest: rr,
			Ride:        RideWithDriver{Ride: ride, Driver: q.d.users[ride.DriverID]},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (q *memQueries) CreateMessage(ctx context.Context, m *models.Message) error {
	q.d.messages[m.ID] = *m
	return nil
}

func (q *memQueries) CreateReport(ctx context.Context, rep *models.Report) error {
	q.d.reports[rep.ID] = *rep
	return nil
}
