package messages

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the day/month/year format of Reading.Timestamp.
const DateLayout = "02/01/2006"

// ErrInvalidReading marks payloads that are not a well-formed Reading.
var ErrInvalidReading = errors.New("invalid reading")

// Reading is one historical meter sample. It is also the unit stored in the
// collector log, serialized with exactly these two fields.
type Reading struct {
	Timestamp string `json:"timestamp"` // DD/MM/YYYY
	EnergyKW  string `json:"energy_kW"` // decimal, kept as text
}

// Validate checks the date layout and that the energy value is a finite decimal.
func (r Reading) Validate() error {
	if strings.TrimSpace(r.Timestamp) == "" {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidReading)
	}
	if _, err := time.Parse(DateLayout, r.Timestamp); err != nil {
		return fmt.Errorf("%w: timestamp %q is not DD/MM/YYYY", ErrInvalidReading, r.Timestamp)
	}
	if strings.TrimSpace(r.EnergyKW) == "" {
		return fmt.Errorf("%w: missing energy_kW", ErrInvalidReading)
	}
	v, err := strconv.ParseFloat(r.EnergyKW, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: energy_kW %q is not a decimal", ErrInvalidReading, r.EnergyKW)
	}
	return nil
}

// Time parses the timestamp as a UTC date.
func (r Reading) Time() (time.Time, error) {
	return time.Parse(DateLayout, r.Timestamp)
}

// Energy parses the energy value.
func (r Reading) Energy() (float64, error) {
	return strconv.ParseFloat(r.EnergyKW, 64)
}

// UnmarshalJSON accepts energy_kW as a JSON string or a JSON number; a number
// keeps its literal text.
func (r *Reading) UnmarshalJSON(b []byte) error {
	var raw struct {
		Timestamp *string         `json:"timestamp"`
		EnergyKW  json.RawMessage `json:"energy_kW"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Timestamp == nil {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidReading)
	}
	energy, err := decodeDecimal(raw.EnergyKW)
	if err != nil {
		return err
	}
	r.Timestamp = *raw.Timestamp
	r.EnergyKW = energy
	return nil
}

func decodeDecimal(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("%w: missing energy_kW", ErrInvalidReading)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("%w: energy_kW must be a string or number", ErrInvalidReading)
	}
	return n.String(), nil
}

// DecodeReading parses and validates one wire payload.
func DecodeReading(payload []byte) (Reading, error) {
	var r Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		if errors.Is(err, ErrInvalidReading) {
			return Reading{}, err
		}
		return Reading{}, fmt.Errorf("%w: %v", ErrInvalidReading, err)
	}
	if err := r.Validate(); err != nil {
		return Reading{}, err
	}
	return r, nil
}

// Encode serializes r as a wire payload.
func (r Reading) Encode() ([]byte, error) {
	return json.Marshal(r)
}
