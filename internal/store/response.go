package store

import (
	"fmt"
	"strings"
)

// Result holds the parsed rows of a SUCCESS reply. The reply payload is
// pipe-delimited rows with comma-delimited fields; the first pipe
// segment is the status marker and is kept in Marker.
type Result struct {
	Marker string
	Rows   [][]string
}

// Empty reports whether the query matched no rows
func (r *Result) Empty() bool {
	return len(r.Rows) == 0
}

func parseResponse(reply string) (*Result, error) {
	switch {
	case strings.HasPrefix(reply, "SUCCESS"):
		segments := strings.Split(reply, "|")
		result := &Result{Marker: segments[0]}
		for _, segment := range segments[1:] {
			result.Rows = append(result.Rows, strings.Split(segment, ","))
		}
		return result, nil
	case strings.HasPrefix(reply, "ERROR"):
		message := strings.TrimPrefix(reply, "ERROR")
		message = strings.TrimPrefix(message, ":")
		return nil, fmt.Errorf("%w: %s", ErrQueryFailed, strings.TrimSpace(message))
	default:
		return nil, fmt.Errorf("%w: unrecognized reply %q", ErrQueryFailed, truncate(reply, 100))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
