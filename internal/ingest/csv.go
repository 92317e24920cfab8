// Package ingest parses location lists out of CSV uploads and files.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"tourplan/internal/model"
)

// ParseLocations reads rows of `name,address[,lat,lng]`. A header row ahead
// of the data is detected and skipped; fully blank rows are ignored. When
// both lat and lng are present the location arrives pre-geocoded.
func ParseLocations(r io.Reader) ([]model.Location, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	var out []model.Location
	row := 0
	sniffed := false
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv row %d: %w", row+1, err)
		}
		row++
		if blankRow(rec) {
			continue
		}
		// Sniff the header on the first non-blank record so blank rows
		// above it do not push the header into the data.
		if !sniffed {
			sniffed = true
			if isHeader(rec) {
				continue
			}
		}
		loc, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("csv row %d: %w", row, err)
		}
		out = append(out, loc)
	}
	return out, nil
}

func parseRow(rec []string) (model.Location, error) {
	if len(rec) < 2 {
		return model.Location{}, fmt.Errorf("want name,address[,lat,lng], got %d columns", len(rec))
	}
	loc := model.Location{
		Name:    strings.TrimSpace(rec[0]),
		Address: strings.TrimSpace(rec[1]),
	}
	if loc.Name == "" && loc.Address == "" {
		return model.Location{}, fmt.Errorf("name and address both empty")
	}
	if loc.Name == "" {
		loc.Name = loc.Address
	}

	latRaw, lngRaw := "", ""
	if len(rec) > 2 {
		latRaw = strings.TrimSpace(rec[2])
	}
	if len(rec) > 3 {
		lngRaw = strings.TrimSpace(rec[3])
	}
	if latRaw == "" && lngRaw == "" {
		if loc.Address == "" {
			return model.Location{}, fmt.Errorf("no address and no coordinates")
		}
		return loc, nil
	}
	if latRaw == "" || lngRaw == "" {
		return model.Location{}, fmt.Errorf("lat and lng must come together")
	}
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil {
		return model.Location{}, fmt.Errorf("bad lat %q", latRaw)
	}
	lng, err := strconv.ParseFloat(lngRaw, 64)
	if err != nil {
		return model.Location{}, fmt.Errorf("bad lng %q", lngRaw)
	}
	loc.Point = &model.GeoPoint{Lat: lat, Lng: lng}
	return loc, nil
}

func blankRow(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func isHeader(rec []string) bool {
	return len(rec) >= 2 &&
		strings.EqualFold(strings.TrimSpace(rec[0]), "name") &&
		strings.EqualFold(strings.TrimSpace(rec[1]), "address")
}
