package parse

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"bus-tracking-backend/internal/model"
)

var (
	ErrInvalidSignal    = errors.New("invalid signal")
	ErrInvalidRouteMode = errors.New("invalid route mode")
	ErrInvalidEventKind = errors.New("invalid event kind")
	ErrInvalidLocation  = errors.New("invalid location")
)

var (
	signalRe   = regexp.MustCompile(`(?i)^\s*(enter|entry|in|exit|out)\s*$`)
	locationRe = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)\s*[,;\s]\s*(-?\d+(?:\.\d+)?)\s*$`)
)

// Signal is the direction of a boarding signal from the bus sensor.
type Signal string

const (
	SignalEnter Signal = "enter"
	SignalExit  Signal = "exit"
)

// ParseSignal normalizes a raw sensor signal to enter or exit.
func ParseSignal(raw string) (Signal, error) {
	m := signalRe.FindStringSubmatch(raw)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidSignal, raw)
	}
	switch strings.ToLower(m[1]) {
	case "enter", "entry", "in":
		return SignalEnter, nil
	default:
		return SignalExit, nil
	}
}

// ParseRouteMode accepts MORNING or EVENING in any case.
func ParseRouteMode(raw string) (model.RouteMode, error) {
	switch model.RouteMode(strings.ToUpper(strings.TrimSpace(raw))) {
	case model.RouteMorning:
		return model.RouteMorning, nil
	case model.RouteEvening:
		return model.RouteEvening, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRouteMode, raw)
}

// ParseEventKind accepts any recorded event kind name, e.g. "exit_at_school".
// Alert-only kinds are rejected since they are never written to the event log.
func ParseEventKind(raw string) (model.EventKind, error) {
	kind := model.EventKind(strings.ToUpper(strings.TrimSpace(raw)))
	switch kind {
	case model.EventEnterAtHome, model.EventExitAtHome,
		model.EventEnterAtSchool, model.EventExitAtSchool,
		model.EventUnusualEnter, model.EventUnusualExit,
		model.EventUnauthorizedEnter, model.EventUnauthorizedExit:
		return kind, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEventKind, raw)
}

// ParseLocation reads a "lat,lng" pair as sent by bus trackers.
func ParseLocation(raw string) (model.Location, error) {
	m := locationRe.FindStringSubmatch(raw)
	if m == nil {
		return model.Location{}, fmt.Errorf("%w: %q", ErrInvalidLocation, raw)
	}
	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return model.Location{}, fmt.Errorf("%w: %q", ErrInvalidLocation, raw)
	}
	lng, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return model.Location{}, fmt.Errorf("%w: %q", ErrInvalidLocation, raw)
	}
	loc := model.Location{Latitude: lat, Longitude: lng}
	if !loc.Valid() {
		return model.Location{}, fmt.Errorf("%w: %q out of range", ErrInvalidLocation, raw)
	}
	return loc, nil
}
