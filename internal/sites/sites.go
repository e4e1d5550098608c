// Package sites reads the GeoTracker site list and selects the candidate
// sites within a radius of a point.
package sites

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/golang/geo/s2"

	"github.com/jmylchreest/gtfetch/internal/logger"
)

// EarthRadiusMiles is the mean earth radius used for distances.
const EarthRadiusMiles = 3958.8

// Column names in the site list header.
const (
	ColGlobalID     = "GLOBAL_ID"
	ColBusinessName = "BUSINESS_NAME"
	ColLatitude     = "LATITUDE"
	ColLongitude    = "LONGITUDE"
)

// ErrMissingColumn is returned when the header lacks a required column.
var ErrMissingColumn = errors.New("missing column")

// Site is one row of the site list with usable coordinates.
type Site struct {
	GlobalID     string
	BusinessName string
	Latitude     float64
	Longitude    float64
}

// Candidate is a site selected for download, with its distance from the
// search centre.
type Candidate struct {
	Site
	DistanceMiles float64
}

// ParseFile reads a TAB-delimited site list from path.
func ParseFile(path string) ([]Site, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sites file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Parse(f)
}

// Parse reads a TAB-delimited site list with a header row. Rows with empty
// or unparseable coordinates are skipped and counted in the log.
func Parse(r io.Reader) ([]Site, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, name := range []string{ColGlobalID, ColLatitude, ColLongitude} {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(strings.ToValidUTF8(rec[i], "\ufffd"))
	}

	var sites []Site
	skipped := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read sites: %w", err)
		}

		lat, latErr := strconv.ParseFloat(field(rec, ColLatitude), 64)
		lon, lonErr := strconv.ParseFloat(field(rec, ColLongitude), 64)
		if latErr != nil || lonErr != nil {
			skipped++
			continue
		}
		sites = append(sites, Site{
			GlobalID:     field(rec, ColGlobalID),
			BusinessName: field(rec, ColBusinessName),
			Latitude:     lat,
			Longitude:    lon,
		})
	}

	logger.Info("parsed sites file", "valid", len(sites), "skipped", skipped)
	return sites, nil
}

// Distance returns the great-circle distance in miles between two points
// given in decimal degrees.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lon1)
	b := s2.LatLngFromDegrees(lat2, lon2)
	return a.Distance(b).Radians() * EarthRadiusMiles
}

// Within returns the sites no more than radius miles from the centre,
// nearest first. Distances are rounded to three decimals; equal distances
// keep file order.
func Within(sites []Site, lat, lon, radius float64) []Candidate {
	var nearby []Candidate
	for _, s := range sites {
		d := Distance(lat, lon, s.Latitude, s.Longitude)
		if d <= radius {
			nearby = append(nearby, Candidate{Site: s, DistanceMiles: math.Round(d*1000) / 1000})
		}
	}
	slices.SortStableFunc(nearby, func(a, b Candidate) int {
		switch {
		case a.DistanceMiles < b.DistanceMiles:
			return -1
		case a.DistanceMiles > b.DistanceMiles:
			return 1
		}
		return 0
	})

	logger.Info("sites within radius", "count", len(nearby), "radius_miles", radius)
	return nearby
}

// Limit truncates candidates to at most n entries; n <= 0 means no limit.
func Limit(candidates []Candidate, n int) []Candidate {
	if n > 0 && len(candidates) > n {
		return candidates[:n]
	}
	return candidates
}
