package models

import "time"

// Space is immutable reference data owned by catalog management. Spaces are
// loaded from configuration, mirroring how the rest of the café catalog is
// managed outside this engine.
type Space struct {
	ID       int64  `yaml:"id" json:"id"`
	Title    string `yaml:"title" json:"title"`
	Capacity int64  `yaml:"capacity" json:"capacity"`
}

// Reservation is a scheduled claim on a space for a half-open interval
// [StartTime, EndTime), independent of whether access has been granted yet.
type Reservation struct {
	ID           int64     `json:"id"`
	SpaceID      int64     `json:"space_id"`
	CustomerName string    `json:"customer_name"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Version      int64     `json:"version"`
}

// Interval returns the reservation's time range.
func (r *Reservation) Interval() Interval {
	return Interval{Start: r.StartTime, End: r.EndTime}
}

// Order is the payment-adjacent record a grant hangs off. Payment processing
// itself is out of scope; the engine only moves Status alongside grant
// transitions.
type Order struct {
	ID            int64     `json:"id"`
	ReservationID int64     `json:"reservation_id"`
	TotalAmount   float64   `json:"total_amount"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	OrderDate     time.Time `json:"order_date"`
}
