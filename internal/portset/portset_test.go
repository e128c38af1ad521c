package portset

import (
	"errors"
	"slices"
	"testing"
)

// TestSetMembership checks add/contains/remove over the whole port space.
func TestSetMembership(t *testing.T) {
	t.Parallel()

	t.Run("add then contains for every port", func(t *testing.T) {
		t.Parallel()

		s := New()
		for p := 0; p <= int(MaxPort); p++ {
			port := uint16(p)
			s.Add(port)
			if !s.Contains(port) {
				t.Fatalf("expected %d to be present after Add", port)
			}
		}
		if s.Len() != 65536 {
			t.Errorf("expected Len 65536, got %d", s.Len())
		}
	})

	t.Run("remove then not contains for every port", func(t *testing.T) {
		t.Parallel()

		s := New()
		s.AddRange(0, MaxPort)
		for p := 0; p <= int(MaxPort); p++ {
			port := uint16(p)
			s.Remove(port)
			if s.Contains(port) {
				t.Fatalf("expected %d to be absent after Remove", port)
			}
		}
		if s.Len() != 0 {
			t.Errorf("expected empty set, got Len %d", s.Len())
		}
	})

	t.Run("remove leaves neighbours untouched", func(t *testing.T) {
		t.Parallel()

		s := Of(63, 64, 65)
		s.Remove(64)
		if !s.Contains(63) || !s.Contains(65) {
			t.Error("expected neighbouring ports to stay in the set")
		}
		if s.Len() != 2 {
			t.Errorf("expected Len 2, got %d", s.Len())
		}
	})

	t.Run("adding twice counts once", func(t *testing.T) {
		t.Parallel()

		s := New()
		s.Add(80)
		s.Add(80)
		if s.Len() != 1 {
			t.Errorf("expected Len 1, got %d", s.Len())
		}
	})

	t.Run("inverted range adds nothing", func(t *testing.T) {
		t.Parallel()

		s := New()
		s.AddRange(10, 1)
		if s.Len() != 0 {
			t.Errorf("expected empty set, got %d ports", s.Len())
		}
	})

	t.Run("RemoveAll drops excluded ports", func(t *testing.T) {
		t.Parallel()

		s := Of(22, 80, 443)
		s.RemoveAll(80, 8080)
		if got := s.Slice(); !slices.Equal(got, []uint16{22, 443}) {
			t.Errorf("expected [22 443], got %v", got)
		}
	})
}

// TestSetIteration checks ordering and restartability of All.
func TestSetIteration(t *testing.T) {
	t.Parallel()

	s := Of(65535, 443, 0, 22, 64, 63)
	want := []uint16{0, 22, 63, 64, 443, 65535}

	first := s.Slice()
	if !slices.Equal(first, want) {
		t.Fatalf("expected %v, got %v", want, first)
	}

	second := slices.Collect(s.All())
	if !slices.Equal(second, want) {
		t.Errorf("expected a fresh iteration to yield %v, got %v", want, second)
	}

	t.Run("early break stops iteration", func(t *testing.T) {
		t.Parallel()

		var got []uint16
		for p := range s.All() {
			got = append(got, p)
			if len(got) == 2 {
				break
			}
		}
		if !slices.Equal(got, []uint16{0, 22}) {
			t.Errorf("expected [0 22], got %v", got)
		}
	})
}

// TestParse tests the port specification grammar.
func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		spec      string
		wantLen   int
		wantFirst uint16
		wantLast  uint16
		want      []uint16
	}{
		{
			name: "list and range",
			spec: "80,443,1000-1002",
			want: []uint16{80, 443, 1000, 1001, 1002},
		},
		{
			name:      "upper bound only starts at MinPort",
			spec:      "-10",
			wantLen:   10,
			wantFirst: 1,
			wantLast:  10,
		},
		{
			name:      "lower bound only ends at MaxPort",
			spec:      "60000-",
			wantLen:   5536,
			wantFirst: 60000,
			wantLast:  65535,
		},
		{
			name:      "bare dash is the full range",
			spec:      "-",
			wantLen:   65535,
			wantFirst: 1,
			wantLast:  65535,
		},
		{
			name: "whitespace is trimmed",
			spec: " 22 , 80 ",
			want: []uint16{22, 80},
		},
		{
			name: "overlapping ranges are merged",
			spec: "1-3,2-4",
			want: []uint16{1, 2, 3, 4},
		},
		{
			name: "single port range",
			spec: "8080-8080",
			want: []uint16{8080},
		},
		{
			name:      "zero lower bound starts at MinPort",
			spec:      "0-1024",
			wantLen:   1024,
			wantFirst: 1,
			wantLast:  1024,
		},
		{
			name:      "zero open range is the full range",
			spec:      "0-",
			wantLen:   65535,
			wantFirst: 1,
			wantLast:  65535,
		},
		{
			name: "port zero alone scans nothing",
			spec: "0",
			want: []uint16{},
		},
		{
			name: "range ending at zero scans nothing",
			spec: "-0",
			want: []uint16{},
		},
		{
			name: "port zero next to others is dropped",
			spec: "0,22",
			want: []uint16{22},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, err := Parse(tt.spec)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			got := s.Slice()
			if tt.want != nil {
				if !slices.Equal(got, tt.want) {
					t.Errorf("expected %v, got %v", tt.want, got)
				}
				return
			}
			if len(got) != tt.wantLen {
				t.Fatalf("expected %d ports, got %d", tt.wantLen, len(got))
			}
			if got[0] != tt.wantFirst {
				t.Errorf("expected first port %d, got %d", tt.wantFirst, got[0])
			}
			if got[len(got)-1] != tt.wantLast {
				t.Errorf("expected last port %d, got %d", tt.wantLast, got[len(got)-1])
			}
		})
	}

	t.Run("empty spec yields top ports", func(t *testing.T) {
		t.Parallel()

		s, err := Parse("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.Len() != Default().Len() {
			t.Errorf("expected %d default ports, got %d", Default().Len(), s.Len())
		}
		if !s.Contains(80) || !s.Contains(443) {
			t.Error("expected default set to contain 80 and 443")
		}
	})
}

// TestParseInvalid tests that malformed specifications are rejected.
func TestParseInvalid(t *testing.T) {
	t.Parallel()

	specs := []string{
		"abc",
		"22,",
		"22,,80",
		"65536",
		"10-1",
		"1-70000",
		"1-2-3",
		"-abc",
		"abc-",
	}

	for _, spec := range specs {
		t.Run(spec, func(t *testing.T) {
			t.Parallel()

			s, err := Parse(spec)
			if err == nil {
				t.Fatalf("expected error for %q, got set of %d ports", spec, s.Len())
			}
			if !errors.Is(err, ErrInvalidPortSpec) {
				t.Errorf("expected ErrInvalidPortSpec, got %v", err)
			}
		})
	}
}

// TestParseList tests exclusion list parsing.
func TestParseList(t *testing.T) {
	t.Parallel()

	t.Run("empty list", func(t *testing.T) {
		t.Parallel()

		got, err := ParseList("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected no ports, got %v", got)
		}
	})

	t.Run("ports are sorted and deduplicated", func(t *testing.T) {
		t.Parallel()

		got, err := ParseList("443,22,443,8000-8001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !slices.Equal(got, []uint16{22, 443, 8000, 8001}) {
			t.Errorf("unexpected list %v", got)
		}
	})

	t.Run("invalid entry", func(t *testing.T) {
		t.Parallel()

		if _, err := ParseList("22,x"); !errors.Is(err, ErrInvalidPortSpec) {
			t.Errorf("expected ErrInvalidPortSpec, got %v", err)
		}
	})
}
