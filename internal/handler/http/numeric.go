package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

var errNotNumeric = errors.New("must be a number or a numeric string")

// numericString holds a numeric request field that clients send either as a
// JSON number or as a string. The raw text is kept for the service to parse.
type numericString string

func (n *numericString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = numericString(strings.TrimSpace(s))
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return errNotNumeric
	}
	*n = numericString(num.String())
	return nil
}

func (n *numericString) ptr() *string {
	if n == nil {
		return nil
	}
	s := string(*n)
	return &s
}
