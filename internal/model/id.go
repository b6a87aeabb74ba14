package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ID is an opaque identifier as returned by the upstream services.  Table
// and table-type identifiers arrive either as JSON numbers or as strings
// depending on the endpoint, so ID accepts both and keeps the textual form.
// The empty ID means "absent".
type ID string

// UnmarshalJSON accepts a JSON string, a JSON number or null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	// a zero id is how the reservations feed reports "no table"
	if n.String() == "0" {
		*id = ""
		return nil
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON emits numeric identifiers as JSON numbers so that upstream
// endpoints expecting integer keys receive them unchanged.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// String returns the textual identifier.
func (id ID) String() string { return string(id) }
