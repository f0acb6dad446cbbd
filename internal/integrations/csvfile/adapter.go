package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"churchtransport/internal/integrations"
)

// Source reads riders from a CSV sign-up sheet with a header row. Recognized columns
// (case-insensitive): first_name, last_name, name, phone, email, address, lat, lng, notes.
type Source struct {
	Path string
	// Errors collects rows skipped by the last FetchRiders call.
	Errors []integrations.RowError

	open func() (io.ReadCloser, error)
}

func New(path string) *Source {
	return &Source{Path: path, open: func() (io.ReadCloser, error) { return os.Open(path) }}
}

// FromReader reads from r instead of a file.
func FromReader(r io.Reader) *Source {
	return &Source{Path: "reader", open: func() (io.ReadCloser, error) { return io.NopCloser(r), nil }}
}

func (s *Source) Name() string { return "csv-file" }

func (s *Source) FetchRiders(ctx context.Context) ([]integrations.Rider, error) {
	f, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.Path, err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	get := func(rec []string, name string) string {
		if i, ok := cols[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	s.Errors = nil
	out := []integrations.Rider{}
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			s.Errors = append(s.Errors, integrations.RowError{Line: line, Reason: err.Error()})
			continue
		}
		rd := integrations.Rider{
			FirstName: get(rec, "first_name"),
			LastName:  get(rec, "last_name"),
			Phone:     get(rec, "phone"),
			Email:     get(rec, "email"),
			Address:   get(rec, "address"),
			Notes:     get(rec, "notes"),
			Line:      line,
		}
		if rd.FirstName == "" && rd.LastName == "" {
			rd.FirstName, rd.LastName, _ = strings.Cut(get(rec, "name"), " ")
		}
		if rd.FirstName == "" && rd.LastName == "" {
			s.Errors = append(s.Errors, integrations.RowError{Line: line, Reason: "missing name"})
			continue
		}
		lat, lng := get(rec, "lat"), get(rec, "lng")
		if lat != "" || lng != "" {
			la, errLat := strconv.ParseFloat(lat, 64)
			ln, errLng := strconv.ParseFloat(lng, 64)
			if errLat != nil || errLng != nil {
				s.Errors = append(s.Errors, integrations.RowError{Line: line, Reason: "lat and lng must both be numbers"})
				continue
			}
			rd.Lat, rd.Lng = &la, &ln
		}
		out = append(out, rd)
	}
	return out, nil
}
