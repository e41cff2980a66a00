package cascade

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDetectionBox(t *testing.T) {
	tests := []struct {
		name   string
		det    Detection
		want   Box
		wantOK bool
	}{
		{
			name:   "width and height",
			det:    Detection{"x": 0.25, "y": 0.25, "width": 0.5, "height": 0.5},
			want:   Box{X: 0.25, Y: 0.25, W: 0.5, H: 0.5},
			wantOK: true,
		},
		{
			name:   "short keys",
			det:    Detection{"x": 1.0, "y": 2.0, "w": 3.0, "h": 4.0},
			want:   Box{X: 1, Y: 2, W: 3, H: 4},
			wantOK: true,
		},
		{
			name:   "integer values",
			det:    Detection{"x": 1, "y": 2, "w": 3, "h": 4},
			want:   Box{X: 1, Y: 2, W: 3, H: 4},
			wantOK: true,
		},
		{
			name:   "missing height",
			det:    Detection{"x": 1.0, "y": 2.0, "w": 3.0},
			wantOK: false,
		},
		{
			name:   "non numeric",
			det:    Detection{"x": "1", "y": 2.0, "w": 3.0, "h": 4.0},
			wantOK: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b, ok := tc.det.Box()
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && b != tc.want {
				t.Errorf("Box = %+v, want %+v", b, tc.want)
			}
		})
	}
}

func TestBoxCenterAndArea(t *testing.T) {
	b := Box{X: 0.25, Y: 0.25, W: 0.5, H: 0.5}

	x, y := b.Center()
	if x != 0.5 || y != 0.5 {
		t.Errorf("Center = (%.2f, %.2f), want (0.50, 0.50)", x, y)
	}
	if a := b.Area(); a != 0.25 {
		t.Errorf("Area = %.4f, want 0.25", a)
	}
}

func TestSelectBest(t *testing.T) {
	if best := SelectBest(nil); best != nil {
		t.Errorf("SelectBest(nil) = %v, want nil", best)
	}

	dets := []Detection{
		{"x": 0.0, "y": 0.0, "width": 0.1, "height": 0.1, "id": "small"},
		{"x": 0.2, "y": 0.2, "width": 0.5, "height": 0.5, "id": "large"},
		{"label": "no box"},
	}
	if best := SelectBest(dets); best.ID() != "large" {
		t.Errorf("SelectBest picked %v", best)
	}

	if best := SelectBest([]Detection{{"label": "no box"}}); best != nil {
		t.Errorf("expected nil when no detection has a box, got %v", best)
	}
}

func TestCheckImagePath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "face.png")
	if err := os.WriteFile(file, []byte("png"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		want error
	}{
		{"empty", "", ErrEmptyPath},
		{"missing", filepath.Join(dir, "nope.png"), ErrFileNotFound},
		{"directory", dir, ErrIsDirectory},
		{"file", file, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckImagePath(tc.path)
			if tc.want == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestHandleStore(t *testing.T) {
	s := NewHandleStore[string]()

	a := s.Add("a")
	b := s.Add("b")
	if a == b || a < 1 {
		t.Fatalf("bad handles %d, %d", a, b)
	}

	if v, ok := s.Get(a); !ok || v != "a" {
		t.Errorf("Get(a) = (%q, %v)", v, ok)
	}
	if v, ok := s.Remove(a); !ok || v != "a" {
		t.Errorf("Remove(a) = (%q, %v)", v, ok)
	}
	if _, ok := s.Get(a); ok {
		t.Error("handle a should be gone")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}

	// Handles are not reused
	if c := s.Add("c"); c == a || c == b {
		t.Errorf("handle %d reused", c)
	}

	if got := s.Drain(); len(got) != 2 || s.Len() != 0 {
		t.Errorf("Drain returned %v, Len now %d", got, s.Len())
	}
}
