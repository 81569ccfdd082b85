// Package classify turns a raw boarding signal into an event kind based on where
// the bus is relative to the student's home and the school.
package classify

import (
	"context"

	"bus-tracking-backend/internal/model"
	"bus-tracking-backend/internal/oracle"
	"bus-tracking-backend/internal/parse"
)

// Decide applies the classification rule to already measured distances.
// Home wins ties with school; unavailable distances never count as close.
func Decide(sig parse.Signal, distHome, distSchool, threshold float64) model.EventKind {
	nearHome := oracle.Available(distHome) && distHome <= threshold
	nearSchool := oracle.Available(distSchool) && distSchool <= threshold

	enter := sig == parse.SignalEnter
	switch {
	case nearHome && distHome <= distSchool:
		if enter {
			return model.EventEnterAtHome
		}
		return model.EventExitAtHome
	case nearSchool:
		if enter {
			return model.EventEnterAtSchool
		}
		return model.EventExitAtSchool
	}
	if enter {
		return model.EventUnusualEnter
	}
	return model.EventUnusualExit
}

// Unauthorized is the kind used when the rider is not a student of the bus.
func Unauthorized(sig parse.Signal) model.EventKind {
	if sig == parse.SignalEnter {
		return model.EventUnauthorizedEnter
	}
	return model.EventUnauthorizedExit
}

// Classifier measures distances through an Oracle and applies Decide.
type Classifier struct {
	oracle    oracle.Oracle
	school    model.Location
	threshold float64
}

func NewClassifier(o oracle.Oracle, school model.Location, thresholdMeters float64) *Classifier {
	return &Classifier{oracle: o, school: school, threshold: thresholdMeters}
}

// Classify decides the kind for a recognized student. A missing bus position or
// home location leaves the corresponding distance unavailable.
func (c *Classifier) Classify(ctx context.Context, sig parse.Signal, busLoc *model.Location, student model.Student) model.EventKind {
	distHome, distSchool := oracle.Unavailable, oracle.Unavailable
	if busLoc != nil {
		if home := student.Home(); home != nil {
			distHome = c.oracle.Distance(ctx, *busLoc, *home)
		}
		distSchool = c.oracle.Distance(ctx, *busLoc, c.school)
	}
	return Decide(sig, distHome, distSchool, c.threshold)
}
