// Package status derives the canonical work-item status from the raw status and
// packed values a client sends.
package status

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aliskhannn/alteration-tracker/internal/model"
)

// CoercePacked turns any accepted truthy encoding into a strict bool.
// Accepted: true, "true", 1 and "1". Everything else is false.
func CoercePacked(v any) bool {
	switch p := v.(type) {
	case bool:
		return p
	case *bool:
		return p != nil && *p
	case string:
		return p == "true" || p == "1"
	case json.Number:
		return p.String() == "1"
	case float64:
		return p == 1
	case float32:
		return p == 1
	case int:
		return p == 1
	case int64:
		return p == 1
	case int32:
		return p == 1
	default:
		return false
	}
}

// Normalize returns the canonical status for the given input. A packed item is
// always DONE; otherwise the upper-cased raw status is kept when it is canonical
// and PENDING is returned for anything else.
func Normalize(raw string, packed any) model.Status {
	if CoercePacked(packed) {
		return model.StatusDone
	}

	s := model.Status(strings.ToUpper(strings.TrimSpace(raw)))
	if s.Valid() {
		return s
	}

	return model.StatusPending
}

// Text renders a raw status value of any JSON type as a string for Normalize.
// nil becomes the empty string; numbers, booleans and objects are printed and
// so never match a canonical status.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case *string:
		if t == nil {
			return ""
		}
		return *t
	default:
		return fmt.Sprint(t)
	}
}
