package models

// TripStatus mirrors the status column of the trips record.
type TripStatus string

const (
	TripOpen       TripStatus = "OPEN"
	TripFull       TripStatus = "FULL"
	TripInProgress TripStatus = "IN_PROGRESS"
	TripCompleted  TripStatus = "COMPLETED"
	TripCancelled  TripStatus = "CANCELLED"
)

// Ended reports whether no further tracking can happen for the trip.
func (s TripStatus) Ended() bool {
	return s == TripCompleted || s == TripCancelled
}

// RequestStatus mirrors the status column of a join request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestAccepted RequestStatus = "ACCEPTED"
	RequestRejected RequestStatus = "REJECTED"
)

// Trip is the roster-relevant part of a trip record.
type Trip struct {
	ID           string     `yaml:"id" json:"id"`
	DriverID     string     `yaml:"driver_id" json:"owner_id"`
	PassengerIDs []string   `yaml:"passenger_ids" json:"passenger_ids"`
	Status       TripStatus `yaml:"status" json:"status"`
}
