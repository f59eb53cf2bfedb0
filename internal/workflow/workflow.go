package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SourceKind identifies a trigger source application.
type SourceKind string

const (
	// SourceGmail triggers on inbound Gmail notifications.
	SourceGmail SourceKind = "Gmail"
	// SourceTelegram triggers on inbound Telegram notifications.
	SourceTelegram SourceKind = "Telegram"
	// SourceMaps triggers on geofence transitions.
	SourceMaps SourceKind = "Maps"
	// SourcePhotos triggers on newly observed photos.
	SourcePhotos SourceKind = "Photos"
)

// DestinationKind identifies a delivery channel.
type DestinationKind string

const (
	// DestinationGmail delivers via email.
	DestinationGmail DestinationKind = "Gmail"
	// DestinationTelegram delivers via a Telegram bot.
	DestinationTelegram DestinationKind = "Telegram"
)

// AccountAny is the wildcard account filter.
const AccountAny = "Any"

// ParseSource normalizes a persisted source tag. The legacy "Google" tag is
// an alias for Gmail and is preserved for old workflow records.
func ParseSource(s string) (SourceKind, error) {
	switch strings.TrimSpace(s) {
	case "Gmail", "Google":
		return SourceGmail, nil
	case "Telegram":
		return SourceTelegram, nil
	case "Maps":
		return SourceMaps, nil
	case "Photos":
		return SourcePhotos, nil
	default:
		return "", fmt.Errorf("unknown source %q", s)
	}
}

// ParseDestination normalizes a persisted destination tag, with the same
// "Google" alias as ParseSource.
func ParseDestination(s string) (DestinationKind, error) {
	switch strings.TrimSpace(s) {
	case "Gmail", "Google":
		return DestinationGmail, nil
	case "Telegram":
		return DestinationTelegram, nil
	default:
		return "", fmt.Errorf("unknown destination %q", s)
	}
}

// Geofence is a circular region attached to a Maps workflow.
type Geofence struct {
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
}

// Workflow is a persisted automation rule: when something happens on the
// source app, rewrite the content per Instructions and deliver it to the
// destination. The JSON tags mirror the workflow persistence record.
type Workflow struct {
	ID                 string          `json:"id"`
	Source             SourceKind      `json:"source"`
	SourceAccount      string          `json:"sourceAccount"`
	Destination        DestinationKind `json:"destination"`
	DestinationAccount string          `json:"destinationAccount"`
	Instructions       string          `json:"instructions"`
	GeoLatitude        *float64        `json:"geoLatitude,omitempty"`
	GeoLongitude       *float64        `json:"geoLongitude,omitempty"`
	GeoRadiusMeters    *float64        `json:"geoRadiusMeters,omitempty"`
	Active             bool            `json:"active"`
	CreatedAt          time.Time       `json:"createdAt"`

	// Photo-source state. Timestamps are unix milliseconds to match the
	// persistence record.
	PhotoBaselineTs      int64       `json:"photoBaselineTs,omitempty"`
	PhotoLastProcessedTs int64       `json:"photoLastProcessedTs,omitempty"`
	PhotoBootstrapCount  int         `json:"photoBootstrapCount,omitempty"`
	PhotoPersonName      string      `json:"photoPersonName,omitempty"`
	PhotoPersonEmbeds    [][]float32 `json:"photoPersonEmbeddings,omitempty"`
}

// Key uniquely identifies a workflow for merge deduplication.
type Key struct {
	Source       SourceKind
	Destination  DestinationKind
	Instructions string
}

// NewID returns a fresh workflow identifier. The same identifier doubles as
// the geofence region id for Maps workflows, so it is assigned exactly once
// and persisted.
func NewID() string {
	return uuid.NewString()
}

// Key returns the (source, destination, instructions) dedupe triple.
func (w Workflow) Key() Key {
	return Key{Source: w.Source, Destination: w.Destination, Instructions: w.Instructions}
}

// GateTs returns the photo gate timestamp: the higher of baseline and
// last-processed. Photos at or below the gate are already accounted for.
func (w Workflow) GateTs() int64 {
	if w.PhotoBaselineTs > w.PhotoLastProcessedTs {
		return w.PhotoBaselineTs
	}
	return w.PhotoLastProcessedTs
}

// HasGeofence reports whether the workflow carries a usable region.
func (w Workflow) HasGeofence() bool {
	return w.GeoLatitude != nil && w.GeoLongitude != nil &&
		w.GeoRadiusMeters != nil && *w.GeoRadiusMeters > 0
}

// Geofence returns the region when present.
func (w Workflow) Geofence() (Geofence, bool) {
	if !w.HasGeofence() {
		return Geofence{}, false
	}
	return Geofence{
		Latitude:     *w.GeoLatitude,
		Longitude:    *w.GeoLongitude,
		RadiusMeters: *w.GeoRadiusMeters,
	}, true
}

// SetGeofence attaches a region to the workflow.
func (w *Workflow) SetGeofence(g Geofence) {
	w.GeoLatitude = &g.Latitude
	w.GeoLongitude = &g.Longitude
	w.GeoRadiusMeters = &g.RadiusMeters
}

// MatchesAccount reports whether an address passes the source account filter.
// An empty or wildcard filter matches everything; otherwise substring match.
func (w Workflow) MatchesAccount(address string) bool {
	if w.SourceAccount == "" || w.SourceAccount == AccountAny {
		return true
	}
	return strings.Contains(address, w.SourceAccount)
}

// Validate checks the invariants a workflow must hold before persisting.
func (w Workflow) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if _, err := uuid.Parse(w.ID); err != nil {
		return fmt.Errorf("workflow id %q is not a uuid: %w", w.ID, err)
	}
	if _, err := ParseSource(string(w.Source)); err != nil {
		return err
	}
	if _, err := ParseDestination(string(w.Destination)); err != nil {
		return err
	}
	if w.Source == SourceMaps && !w.HasGeofence() {
		return fmt.Errorf("maps workflow %s requires a geofence", w.ID)
	}
	return nil
}
