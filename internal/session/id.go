package session

import (
	"fmt"
	"strconv"
	"strings"
)

const idPrefix = "session_"

func formatID(stamp int64) string {
	return fmt.Sprintf("%s%d", idPrefix, stamp)
}

// parseID extracts the millisecond stamp of an id.
func parseID(id string) (int64, bool) {
	rest, ok := strings.CutPrefix(id, idPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// compareIDs orders ids by stamp, falling back to string order when either
// id is not time-derived.
func compareIDs(a, b string) int {
	na, okA := parseID(a)
	nb, okB := parseID(b)
	if okA && okB {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}
