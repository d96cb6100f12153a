package generation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// requestFields is Request without its JSON methods.
type requestFields Request

// MarshalJSON writes TimeBudget as a duration string.
func (r Request) MarshalJSON() ([]byte, error) {
	out := struct {
		requestFields
		TimeBudget string `json:"time_budget,omitempty"`
	}{requestFields: requestFields(r)}
	if r.TimeBudget != 0 {
		out.TimeBudget = r.TimeBudget.String()
	}
	return json.Marshal(out)
}

// UnmarshalJSON rejects unknown fields and reads time_budget either as a
// duration string or as integer nanoseconds.
func (r *Request) UnmarshalJSON(data []byte) error {
	var in struct {
		requestFields
		TimeBudget json.RawMessage `json:"time_budget,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return err
	}

	budget, err := parseBudget(in.TimeBudget)
	if err != nil {
		return err
	}
	*r = Request(in.requestFields)
	r.TimeBudget = budget
	return nil
}

func parseBudget(raw json.RawMessage) (time.Duration, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("time_budget: %w", err)
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("time_budget: %w", err)
		}
		return d, nil
	}

	var ns int64
	if err := json.Unmarshal(raw, &ns); err != nil {
		return 0, errors.New("time_budget: must be a duration string or integer nanoseconds")
	}
	return time.Duration(ns), nil
}
