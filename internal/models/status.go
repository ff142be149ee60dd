package models

// RideStatus is the lifecycle state of a Ride.
type RideStatus string

const (
	RideActive    RideStatus = "ACTIVE"
	RideFull      RideStatus = "FULL"
	RideCancelled RideStatus = "CANCELLED"
	RideCompleted RideStatus = "COMPLETED"
)

// rideTransitions is the full set of legal ride status moves. CANCELLED and
// COMPLETED are terminal.
var rideTransitions = map[RideStatus][]RideStatus{
	RideActive: {RideFull, RideCancelled, RideCompleted},
	RideFull:   {RideActive, RideCancelled, RideCompleted},
}

func (s RideStatus) CanTransition(to RideStatus) bool {
	for _, t := range rideTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

func (s RideStatus) Terminal() bool {
	return len(rideTransitions[s]) == 0
}

func (s RideStatus) Valid() bool {
	switch s {
	case RideActive, RideFull, RideCancelled, RideCompleted:
		return true
	}
	return false
}

// RequestStatus is the lifecycle state of a RideRequest.
type RequestStatus string

const (
	RequestPending   RequestStatus = "PENDING"
	RequestAccepted  RequestStatus = "ACCEPTED"
	RequestRejected  RequestStatus = "REJECTED"
	RequestCancelled RequestStatus = "CANCELLED"
)

// requestTransitions: REJECTED and CANCELLED are terminal, but a terminal
// request's row may be reused for a fresh PENDING join (handled in the
// allocator, not modelled as a transition).
var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestPending:  {RequestAccepted, RequestRejected, RequestCancelled},
	RequestAccepted: {RequestCancelled},
}

func (s RequestStatus) CanTransition(to RequestStatus) bool {
	for _, t := range requestTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

func (s RequestStatus) Terminal() bool {
	return len(requestTransitions[s]) == 0
}

// Active reports whether the request still occupies the (ride, passenger)
// slot: a terminal request may be superseded by a new join, an active one
// may not.
func (s RequestStatus) Active() bool {
	return s == RequestPending || s == RequestAccepted
}

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestAccepted, RequestRejected, RequestCancelled:
		return true
	}
	return false
}
