package meter_simulator

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/LeonardoBeccarini/smartmeter_sim/internal/model"
)

// Column headers of the historical export.
const (
	DateColumn  = "Date"
	ValueColumn = "Value (kW)"
)

var (
	// ErrMalformedRecord marks a data row that cannot become a Reading; the
	// row is skipped and iteration can continue.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrNoReadings is returned when a replay pass yields nothing.
	ErrNoReadings = errors.New("source has no readings")
)

// ReadingSource yields readings until io.EOF.
type ReadingSource interface {
	Next() (model.Reading, error)
}

// CSVSource reads readings sequentially from a CSV file, optionally
// rewinding to the first data row after the last one.
type CSVSource struct {
	f        *os.File
	r        *csv.Reader
	loop     bool
	dateIdx  int
	valueIdx int
	line     int
	passRows int // readings returned in the current pass
	replays  int
}

// OpenCSV opens path and validates its header. The caller owns Close.
func OpenCSV(path string, loop bool) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", path, err)
	}
	s := &CSVSource{f: f, loop: loop}
	if err := s.readHeader(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("source %s: %w", path, err)
	}
	return s, nil
}

func (s *CSVSource) readHeader() error {
	s.r = csv.NewReader(s.f)
	s.r.FieldsPerRecord = -1
	s.r.TrimLeadingSpace = true
	s.line = 1

	header, err := s.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty file, header row expected")
		}
		return fmt.Errorf("read header: %w", err)
	}

	s.dateIdx, s.valueIdx = -1, -1
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		switch h {
		case DateColumn:
			s.dateIdx = i
		case ValueColumn:
			s.valueIdx = i
		}
	}
	if s.dateIdx < 0 || s.valueIdx < 0 {
		return fmt.Errorf("header must contain %q and %q, got %q", DateColumn, ValueColumn, header)
	}
	return nil
}

// Next returns the next reading. At the end of the data it returns io.EOF,
// or rewinds past the header when looping.
func (s *CSVSource) Next() (model.Reading, error) {
	for {
		rec, err := s.r.Read()
		if errors.Is(err, io.EOF) {
			if !s.loop {
				return model.Reading{}, io.EOF
			}
			if s.passRows == 0 {
				return model.Reading{}, ErrNoReadings
			}
			if err := s.rewind(); err != nil {
				return model.Reading{}, err
			}
			continue
		}
		s.line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return model.Reading{}, fmt.Errorf("%w: line %d: %v", ErrMalformedRecord, s.line, err)
			}
			return model.Reading{}, fmt.Errorf("read source: %w", err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if s.dateIdx >= len(rec) || s.valueIdx >= len(rec) {
			return model.Reading{}, fmt.Errorf("%w: line %d has %d fields", ErrMalformedRecord, s.line, len(rec))
		}

		r := model.Reading{
			Timestamp: strings.TrimSpace(rec[s.dateIdx]),
			EnergyKW:  strings.TrimSpace(rec[s.valueIdx]),
		}
		if err := r.Validate(); err != nil {
			return model.Reading{}, fmt.Errorf("%w: line %d: %v", ErrMalformedRecord, s.line, err)
		}
		s.passRows++
		return r, nil
	}
}

func (s *CSVSource) rewind() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind source: %w", err)
	}
	if err := s.readHeader(); err != nil {
		return fmt.Errorf("rewind source: %w", err)
	}
	s.passRows = 0
	s.replays++
	return nil
}

// Replays counts completed rewinds.
func (s *CSVSource) Replays() int { return s.replays }

func (s *CSVSource) Close() error {
	return s.f.Close()
}
