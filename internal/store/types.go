package store

import "time"

// Flags are the alert flags of one (parent, student) pair. The zero value is
// what a pair without a stored row reads as.
type Flags struct {
	Approach bool
	Arrival  bool
	Missed   bool
}

// PairKey identifies a (parent, student) pair.
type PairKey struct {
	ParentID  int64
	StudentID int64
}

// NearMark tells whether the bus was last seen near a student's home and since when.
type NearMark struct {
	Near  bool
	Since time.Time
}
