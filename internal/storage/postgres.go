package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/efebausal/bilshare/internal/models"
)

// dbtx is the subset of *sql.DB and *sql.Tx the queries need, so the same
// code runs inside and outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Postgres struct {
	pgQueries
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{pgQueries: pgQueries{db: db}, db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Transact(ctx context.Context, fn func(q Queries) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&pgQueries{db: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type pgQueries struct {
	db dbtx
}

// pgErr maps driver errors onto the package sentinels.
func pgErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqe *pq.Error
	if errors.As(err, &pqe) && pqe.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

const userCols = "id, external_id, email, name, phone, car_model, car_plate, bio, blocked, created_at, updated_at"

func scanUser(row interface{ Scan(...any) error }) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.ExternalID, &u.Email, &u.Name, &u.Phone, &u.CarModel, &u.CarPlate, &u.Bio, &u.Blocked, &u.CreatedAt, &u.UpdatedAt)
	return u, pgErr(err)
}

func (q *pgQueries) CreateUser(ctx context.Context, u *models.User) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO users (id, external_id, email, name, phone, car_model, car_plate, bio, blocked, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		u.ID, u.ExternalID, u.Email, u.Name, u.Phone, u.CarModel, u.CarPlate, u.Bio, u.Blocked, u.CreatedAt, u.UpdatedAt)
	return pgErr(err)
}

func (q *pgQueries) GetUser(ctx context.Context, id string) (models.User, error) {
	return scanUser(q.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=$1`, id))
}

func (q *pgQueries) GetUserByExternalID(ctx context.Context, externalID string) (models.User, error) {
	return scanUser(q.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE external_id=$1`, externalID))
}

func (q *pgQueries) UpdateUser(ctx context.Context, u *models.User) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE users SET email=$1, name=$2, phone=$3, car_model=$4, car_plate=$5, bio=$6, blocked=$7, updated_at=$8
		WHERE id=$9`,
		u.Email, u.Name, u.Phone, u.CarModel, u.CarPlate, u.Bio, u.Blocked, u.UpdatedAt, u.ID)
	if err != nil {
		return pgErr(err)
	}
	return affected(res)
}

func (q *pgQueries) DeleteUserByExternalID(ctx context.Context, externalID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM users WHERE external_id=$1`, externalID)
	return pgErr(err)
}

const rideCols = "id, driver_id, origin, destination, date_time, seats_total, seats_available, price, notes, meeting_point, women_only, status, created_at, updated_at"

func scanRide(row interface{ Scan(...any) error }) (models.Ride, error) {
	var r models.Ride
	err := row.Scan(&r.ID, &r.DriverID, &r.Origin, &r.Destination, &r.DateTime, &r.SeatsTotal, &r.SeatsAvailable, &r.Price, &r.Notes, &r.MeetingPoint, &r.WomenOnly, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	return r, pgErr(err)
}

func (q *pgQueries) CreateRide(ctx context.Context, r *models.Ride) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO rides (id, driver_id, origin, destination, date_time, seats_total, seats_available, price, notes, meeting_point, women_only, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		r.ID, r.DriverID, r.Origin, r.Destination, r.DateTime, r.SeatsTotal, r.SeatsAvailable, r.Price, r.Notes, r.MeetingPoint, r.WomenOnly, r.Status, r.CreatedAt, r.UpdatedAt)
	return pgErr(err)
}

func (q *pgQueries) GetRide(ctx context.Context, id string) (models.Ride, error) {
	return scanRide(q.db.QueryRowContext(ctx, `SELECT `+rideCols+` FROM rides WHERE id=$1`, id))
}

func (q *pgQueries) GetRideForUpdate(ctx context.Context, id string) (models.Ride, error) {
	return scanRide(q.db.QueryRowContext(ctx, `SELECT `+rideCols+` FROM rides WHERE id=$1 FOR UPDATE`, id))
}

func (q *pgQueries) UpdateRide(ctx context.Context, r *models.Ride) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE rides SET seats_available=$1, status=$2, updated_at=$3 WHERE id=$4`,
		r.SeatsAvailable, r.Status, r.UpdatedAt, r.ID)
	if err != nil {
		return pgErr(err)
	}
	return affected(res)
}

func (q *pgQueries) ListRides(ctx context.Context, f RideFilter) ([]RideWithDriver, int, error) {
	where := []string{"r.status IN ('ACTIVE','FULL')", "r.date_time >= $1"}
	args := []any{f.Now}
	next := 2
	add := func(cond string, v any) {
		where = append(where, fmt.Sprintf(cond, next))
		args = append(args, v)
		next++
	}
	if f.Origin != "" {
		add("r.origin ILIKE '%%' || $%d || '%%'", f.Origin)
	}
	if f.Destination != "" {
		add("r.destination ILIKE '%%' || $%d || '%%'", f.Destination)
	}
	if f.Day != nil {
		day := f.Day.Truncate(24 * time.Hour)
		add("r.date_time >= $%d", day)
		add("r.date_time < $%d", day.Add(24*time.Hour))
	}
	if f.MinSeats > 0 {
		add("r.seats_available >= $%d", f.MinSeats)
	}
	if f.MaxPrice != nil {
		add("r.price <= $%d", *f.MaxPrice)
	}
	if f.WomenOnly {
		where = append(where, "r.women_only")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rides r WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, pgErr(err)
	}

	query := fmt.Sprintf(`
		SELECT `+prefixed("r", rideCols)+`, `+prefixed("u", userCols)+`
		FROM rides r JOIN users u ON u.id = r.driver_id
		WHERE %s ORDER BY r.date_time ASC LIMIT $%d OFFSET $%d`, cond, next, next+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, pgErr(err)
	}
	defer rows.Close()

	var out []RideWithDriver
	for rows.Next() {
		var rd RideWithDriver
		if err := rows.Scan(
			&rd.ID, &rd.DriverID, &rd.Origin, &rd.Destination, &rd.DateTime, &rd.SeatsTotal, &rd.SeatsAvailable, &rd.Price, &rd.Notes, &rd.MeetingPoint, &rd.WomenOnly, &rd.Status, &rd.CreatedAt, &rd.UpdatedAt,
			&rd.Driver.ID, &rd.Driver.ExternalID, &rd.Driver.Email, &rd.Driver.Name, &rd.Driver.Phone, &rd.Driver.CarModel, &rd.Driver.CarPlate, &rd.Driver.Bio, &rd.Driver.Blocked, &rd.Driver.CreatedAt, &rd.Driver.UpdatedAt,
		); err != nil {
			return nil, 0, pgErr(err)
		}
		out = append(out, rd)
	}
	return out, total, pgErr(rows.Err())
}

func (q *pgQueries) RideDetail(ctx context.Context, id string) (RideDetail, error) {
	var d RideDetail
	ride, err := q.GetRide(ctx, id)
	if err != nil {
		return d, err
	}
	d.Ride = ride
	if d.Driver, err = q.GetUser(ctx, ride.DriverID); err != nil {
		return d, err
	}
	if d.Requests, err = q.requestsForRide(ctx, id); err != nil {
		return d, err
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT `+prefixed("m", "id, ride_id, sender_id, content, created_at")+`, `+prefixed("u", userCols)+`
		FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.ride_id=$1 ORDER BY m.created_at ASC`, id)
	if err != nil {
		return d, pgErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var m MessageWithSender
		if err := rows.Scan(
			&m.ID, &m.RideID, &m.SenderID, &m.Content, &m.CreatedAt,
			&m.Sender.ID, &m.Sender.ExternalID, &m.Sender.Email, &m.Sender.Name, &m.Sender.Phone, &m.Sender.CarModel, &m.Sender.CarPlate, &m.Sender.Bio, &m.Sender.Blocked, &m.Sender.CreatedAt, &m.Sender.UpdatedAt,
		); err != nil {
			return d, pgErr(err)
		}
		d.Messages = append(d.Messages, m)
	}
	return d, pgErr(rows.Err())
}

const requestCols = "id, ride_id, passenger_id, seats, note, status, created_at, updated_at"

func (q *pgQueries) requestsForRide(ctx context.Context, rideID string) ([]RequestWithPassenger, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+prefixed("rr", requestCols)+`, `+prefixed("u", userCols)+`
		FROM ride_requests rr JOIN users u ON u.id = rr.passenger_id
		WHERE rr.ride_id=$1 ORDER BY rr.created_at DESC`, rideID)
	if err != nil {
		return nil, pgErr(err)
	}
	defer rows.Close()
	var out []RequestWithPassenger
	for rows.Next() {
		var r RequestWithPassenger
		if err := rows.Scan(
			&r.ID, &r.RideID, &r.PassengerID, &r.Seats, &r.Note, &r.Status, &r.CreatedAt, &r.UpdatedAt,
			&r.Passenger.ID, &r.Passenger.ExternalID, &r.Passenger.Email, &r.Passenger.Name, &r.Passenger.Phone, &r.Passenger.CarModel, &r.Passenger.CarPlate, &r.Passenger.Bio, &r.Passenger.Blocked, &r.Passenger.CreatedAt, &r.Passenger.UpdatedAt,
		); err != nil {
			return nil, pgErr(err)
		}
		out = append(out, r)
	}
	return out, pgErr(rows.Err())
}

func (q *pgQueries) RidesByDriver(ctx context.Context, driverID string) ([]RideWithRequests, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+rideCols+` FROM rides WHERE driver_id=$1 ORDER BY date_time DESC`, driverID)
	if err != nil {
		return nil, pgErr(err)
	}
	defer rows.Close()
	var out []RideWithRequests
	for rows.Next() {
		var r RideWithRequests
		if err := rows.Scan(&r.ID, &r.DriverID, &r.Origin, &r.Destination, &r.DateTime, &r.SeatsTotal, &r.SeatsAvailable, &r.Price, &r.Notes, &r.MeetingPoint, &r.WomenOnly, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, pgErr(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr(err)
	}
	for i := range out {
		reqs, err := q.requestsForRide(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Requests = reqs
	}
	return out, nil
}

func (q *pgQueries) CompleteRidesBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `
		UPDATE rides SET status='COMPLETED', updated_at=$1
		WHERE status IN ('ACTIVE','FULL') AND date_time < $1
		RETURNING id`, cutoff)
	if err != nil {
		return nil, pgErr(err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, pgErr(err)
		}
		ids = append(ids, id)
	}
	return ids, pgErr(rows.Err())
}

func scanRequest(row interface{ Scan(...any) error }) (models.RideRequest, error) {
	var r models.RideRequest
	err := row.Scan(&r.ID, &r.RideID, &r.PassengerID, &r.Seats, &r.Note, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	return r, pgErr(err)
}

func (q *pgQueries) CreateRequest(ctx context.Context, rr *models.RideRequest) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO ride_requests (id, ride_id, passenger_id, seats, note, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rr.ID, rr.RideID, rr.PassengerID, rr.Seats, rr.Note, rr.Status, rr.CreatedAt, rr.UpdatedAt)
	return pgErr(err)
}

func (q *pgQueries) GetRequest(ctx context.Context, id string) (models.RideRequest, error) {
	return scanRequest(q.db.QueryRowContext(ctx, `SELECT `+requestCols+` FROM ride_requests WHERE id=$1`, id))
}

func (q *pgQueries) GetRequestByRidePassenger(ctx context.Context, rideID, passengerID string) (models.RideRequest, error) {
	return scanRequest(q.db.QueryRowContext(ctx, `SELECT `+requestCols+` FROM ride_requests WHERE ride_id=$1 AND passenger_id=$2`, rideID, passengerID))
}

func (q *pgQueries) UpdateRequest(ctx context.Context, rr *models.RideRequest) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE ride_requests SET seats=$1, note=$2, status=$3, updated_at=$4 WHERE id=$5`,
		rr.Seats, rr.Note, rr.Status, rr.UpdatedAt, rr.ID)
	if err != nil {
		return pgErr(err)
	}
	return affected(res)
}

func (q *pgQueries) CancelPendingRequests(ctx context.Context, rideID string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE ride_requests SET status='CANCELLED', updated_at=now() WHERE ride_id=$1 AND status='PENDING'`, rideID)
	return pgErr(err)
}

func (q *pgQueries) HasAcceptedRequest(ctx context.Context, rideID, userID string) (bool, error) {
	var ok bool
	err := q.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM ride_requests WHERE ride_id=$1 AND passenger_id=$2 AND status='ACCEPTED')`,
		rideID, userID).Scan(&ok)
	return ok, pgErr(err)
}

func (q *pgQueries) RequestsByPassenger(ctx context.Context, passengerID string) ([]RequestWithRide, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+prefixed("rr", requestCols)+`, `+prefixed("r", rideCols)+`, `+prefixed("u", userCols)+`
		FROM ride_requests rr
		JOIN rides r ON r.id = rr.ride_id
		JOIN users u ON u.id = r.driver_id
		WHERE rr.passenger_id=$1 ORDER BY rr.created_at DESC`, passengerID)
	if err != nil {
		return nil, pgErr(err)
	}
	defer rows.Close()
	var out []RequestWithRide
	for rows.Next() {
		var r RequestWithRide
		if err := rows.Scan(
			&r.ID, &r.RideID, &r.PassengerID, &r.Seats, &r.Note, &r.Status, &r.CreatedAt, &r.UpdatedAt,
			&r.Ride.ID, &r.Ride.DriverID, &r.Ride.Origin, &r.Ride.Destination, &r.Ride.DateTime, &r.Ride.SeatsTotal, &r.Ride.SeatsAvailable, &r.Ride.Price, &r.Ride.Notes, &r.Ride.MeetingPoint, &r.Ride.WomenOnly, &r.Ride.Status, &r.Ride.CreatedAt, &r.Ride.UpdatedAt,
			&r.Ride.Driver.ID, &r.Ride.Driver.ExternalID, &r.Ride.Driver.Email, &r.Ride.Driver.Name, &r.Ride.Driver.Phone, &r.Ride.Driver.CarModel, &r.Ride.Driver.CarPlate, &r.Ride.Driver.Bio, &r.Ride.Driver.Blocked, &r.Ride.Driver.CreatedAt, &r.Ride.Driver.UpdatedAt,
		); err != nil {
			return nil, pgErr(err)
		}
		out = append(out, r)
	}
	return out, pgErr(rows.Err())
}

func (q *pgQueries) CreateMessage(ctx context.Context, m *models.Message) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO messages (id, ride_id, sender_id, content, created_at) VALUES ($1,$2,$3,$4,$5)`,
		m.ID, m.RideID, m.SenderID, m.Content, m.CreatedAt)
	return pgErr(err)
}

func (q *pgQueries) CreateReport(ctx context.Context, rep *models.Report) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO reports (id, filer_id, target_id, ride_id, reason, details, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rep.ID, rep.FilerID, rep.TargetID, rep.RideID, rep.Reason, rep.Details, rep.CreatedAt)
	return pgErr(err)
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// prefixed rewrites "a, b, c" to "p.a, p.b, p.c" for join selects.
func prefixed(p, cols string) string {
	parts := strings.Split(cols, ", ")
	for i, c := range parts {
		parts[i] = p + "." + c
	}
	return strings.Join(parts, ", ")
}
