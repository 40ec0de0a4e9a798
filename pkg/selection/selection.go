// Package selection parses 1-based index specs such as "1,3-5" against a
// known number of items.
package selection

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	ReasonNothing      = "nothing to select"
	ReasonInvalidIndex = "invalid index"
	ReasonInvalidRange = "invalid range"
	ReasonOutOfRange   = "index out of range"
)

// Error describes why an index spec was rejected. Token is the offending part
// of the spec, Total the number of selectable items.
type Error struct {
	Token  string
	Total  int
	Reason string
}

func (e *Error) Error() string {
	if e.Token == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %q (total %d)", e.Reason, e.Token, e.Total)
}

// Parse returns the selected indices in ascending order without duplicates.
// A blank spec selects every item.
func Parse(spec string, total int) ([]int, error) {
	if total <= 0 {
		return nil, &Error{Reason: ReasonNothing}
	}

	spec = strings.TrimSpace(strings.ReplaceAll(spec, "，", ","))
	if spec == "" {
		return All(total), nil
	}

	picked := make(map[int]struct{})
	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		if lo, hi, ok := strings.Cut(token, "-"); ok {
			start, ok1 := parseIndex(lo)
			end, ok2 := parseIndex(hi)
			if !ok1 || !ok2 {
				return nil, &Error{Token: token, Total: total, Reason: ReasonInvalidIndex}
			}
			if start < 1 || start > end {
				return nil, &Error{Token: token, Total: total, Reason: ReasonInvalidRange}
			}
			if end > total {
				return nil, &Error{Token: strconv.Itoa(end), Total: total, Reason: ReasonOutOfRange}
			}
			for i := start; i <= end; i++ {
				picked[i] = struct{}{}
			}
			continue
		}

		n, ok := parseIndex(token)
		if !ok {
			return nil, &Error{Token: token, Total: total, Reason: ReasonInvalidIndex}
		}
		if n < 1 || n > total {
			return nil, &Error{Token: token, Total: total, Reason: ReasonOutOfRange}
		}
		picked[n] = struct{}{}
	}

	if len(picked) == 0 {
		return All(total), nil
	}
	out := make([]int, 0, len(picked))
	for i := range picked {
		out = append(out, i)
	}
	sort.Ints(out)
	return out, nil
}

// parseIndex accepts unsigned decimal digits only.
func parseIndex(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

// ParseInt selects a single index. It shares Parse's range checks.
func ParseInt(n, total int) ([]int, error) {
	return Parse(strconv.Itoa(n), total)
}

// All returns 1..total.
func All(total int) []int {
	out := make([]int, total)
	for i := range out {
		out[i] = i + 1
	}
	return out
}
