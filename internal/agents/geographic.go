package agents

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mbd888/fraudswarm/internal/fraud"
)

const (
	geoWindow = 7 * 24 * time.Hour
	geoLimit  = 10

	earthRadiusKm = 6371.0

	weightUnknownLocation  = 0.40
	weightImpossibleTravel = 0.50
	weightUnlikelyTravel   = 0.30
	weightNovelCountry     = 0.20
)

// GeographicAgent checks that the transaction's location is plausible
// given where the user was recently.
type GeographicAgent struct {
	history LocationHistory
}

var _ fraud.Scorer = (*GeographicAgent)(nil)

// NewGeographicAgent creates a geographic agent.
func NewGeographicAgent(h LocationHistory) *GeographicAgent {
	return &GeographicAgent{history: h}
}

// Name implements fraud.Scorer.
func (g *GeographicAgent) Name() string { return fraud.AgentGeographic }

// Score implements fraud.Scorer.
func (g *GeographicAgent) Score(ctx context.Context, tx *fraud.Transaction) (*fraud.AgentScore, error) {
	recent, err := g.history.RecentLocations(ctx, tx.UserID, tx.Timestamp, geoWindow, geoLimit)
	if err != nil {
		return nil, fmt.Errorf("geographic agent: %w", err)
	}

	var t tally
	loc := tx.Location
	details := map[string]any{
		"city":             loc.City,
		"country":          loc.Country,
		"recent_locations": len(recent),
	}

	if loc.IsUnknown() {
		t.add(weightUnknownLocation, "Unknown or suspicious location")
	}

	if len(recent) > 0 {
		prev := recent[0]
		dist := Haversine(prev.Location, loc)
		hours := tx.Timestamp.Sub(prev.Timestamp).Hours()
		details["distance_km"] = math.Round(dist)
		details["hours_since_last"] = hours

		switch {
		case dist > 500 && hours < 1:
			t.add(weightImpossibleTravel, "Impossible travel: %.0fkm in %.1f hours", dist, hours)
		case dist > 1000 && hours < 3:
			t.add(weightUnlikelyTravel, "Unlikely travel pattern: %.0fkm in %.1f hours", dist, hours)
		}
	}

	known := make(map[string]bool, len(recent))
	for _, r := range recent {
		known[r.Location.Country] = true
	}
	details["known_countries"] = len(known)
	if !known[loc.Country] {
		t.add(weightNovelCountry, "First transaction in %s", loc.Country)
	}

	return t.result(fraud.AgentGeographic, fmt.Sprintf("Normal location: %s, %s", loc.City, loc.Country), details), nil
}

// Haversine returns the great-circle distance between a and b in kilometres.
func Haversine(a, b fraud.Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}
