package portset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPortSpec is returned when a port specification cannot be parsed.
// Callers can match it with errors.Is; the wrapped message names the
// offending token.
var ErrInvalidPortSpec = errors.New("invalid port specification")

// Parse builds a Set from a comma-separated port specification such as
// "22,80,1000-2000,-100,5000-". See the package documentation for the
// grammar. An empty specification yields the Default set.
func Parse(spec string) (*Set, error) {
	if strings.TrimSpace(spec) == "" {
		return Default(), nil
	}

	s := New()
	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if err := s.addToken(token); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Set) addToken(token string) error {
	if token == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidPortSpec)
	}

	lower, upper, isRange := strings.Cut(token, "-")
	if !isRange {
		p, err := parsePort(token)
		if err != nil {
			return err
		}
		if p >= MinPort {
			s.Add(p)
		}
		return nil
	}

	var lo, hi uint16 = 0, MaxPort
	var err error
	if lower != "" {
		if lo, err = parsePort(lower); err != nil {
			return err
		}
	}
	if upper != "" {
		if hi, err = parsePort(upper); err != nil {
			return err
		}
	}
	if lo > hi {
		return fmt.Errorf("%w: range %q is inverted", ErrInvalidPortSpec, token)
	}
	// Port 0 is accepted in specifications but never scanned.
	lo = max(lo, MinPort)
	if lo <= hi {
		s.AddRange(lo, hi)
	}
	return nil
}

func parsePort(value string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid port %q", ErrInvalidPortSpec, value)
	}
	return uint16(n), nil
}

// ParseList parses a comma-separated list of single ports, as used for
// exclusion lists. Ranges are accepted as well.
func ParseList(list string) ([]uint16, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	s := New()
	for _, token := range strings.Split(list, ",") {
		if err := s.addToken(strings.TrimSpace(token)); err != nil {
			return nil, err
		}
	}
	return s.Slice(), nil
}
