package models

import "time"

// User is a profile backed by an identity-provider account. Email is unique
// and restricted to the campus domain; ExternalID is the provider's user id.
type User struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"-"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone,omitempty"`
	CarModel   string    `json:"car_model,omitempty"`
	CarPlate   string    `json:"car_plate,omitempty"`
	Bio        string    `json:"bio,omitempty"`
	Blocked    bool      `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Ride is a posted trip with a fixed seat capacity. SeatsAvailable only moves
// through the allocator: acceptance decrements it, cancelling an accepted
// request restores it.
type Ride struct {
	ID             string     `json:"id"`
	DriverID       string     `json:"driver_id"`
	Origin         string     `json:"origin"`
	Destination    string     `json:"destination"`
	DateTime       time.Time  `json:"date_time"`
	SeatsTotal     int        `json:"seats_total"`
	SeatsAvailable int        `json:"seats_available"`
	Price          *float64   `json:"price,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	MeetingPoint   string     `json:"meeting_point,omitempty"`
	WomenOnly      bool       `json:"women_only"`
	Status         RideStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RideRequest is a passenger's ask for seats on a ride. At most one
// PENDING/ACCEPTED request exists per (ride, passenger); a terminal request
// is reused in place when the passenger joins again.
type RideRequest struct {
	ID          string        `json:"id"`
	RideID      string        `json:"ride_id"`
	PassengerID string        `json:"passenger_id"`
	Seats       int           `json:"seats"`
	Note        string        `json:"note,omitempty"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Message is an append-only chat entry on a ride.
type Message struct {
	ID        string    `json:"id"`
	RideID    string    `json:"ride_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Report is an append-only abuse report filed by one user against another.
type Report struct {
	ID        string    `json:"id"`
	FilerID   string    `json:"filer_id"`
	TargetID  string    `json:"target_id"`
	RideID    *string   `json:"ride_id,omitempty"`
	Reason    string    `json:"reason"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
