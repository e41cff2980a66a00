// Package cascade runs cascade classifiers on images through a pluggable
// vision backend.
//
// The Invoker resolves an image reference to a local file, asks the Backend
// to decode it, runs a named classifier on the decoded image and parses the
// backend's JSON reply into Detections.
package cascade

// Detection is one region reported by the backend. Fields are passed through
// exactly as the backend encoded them; use Box for typed access to the
// bounding box.
type Detection map[string]any

// Box is an axis-aligned bounding box. Backends in this module report it
// normalized to the image size (0-1).
type Box struct {
	X, Y float64 // Top-left corner
	W, H float64 // Width and height
}

// Center returns the center point of the box.
func (b Box) Center() (x, y float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Area returns the area of the box.
func (b Box) Area() float64 {
	return b.W * b.H
}

// Box extracts the bounding box. Width and height are read from "width" and
// "height", falling back to "w" and "h". ok is false when any coordinate is
// missing or not numeric.
func (d Detection) Box() (b Box, ok bool) {
	var okX, okY, okW, okH bool
	b.X, okX = d.number("x")
	b.Y, okY = d.number("y")
	b.W, okW = d.number("width", "w")
	b.H, okH = d.number("height", "h")
	return b, okX && okY && okW && okH
}

// ID returns the backend-assigned id, if any.
func (d Detection) ID() string {
	if s, ok := d["id"].(string); ok {
		return s
	}
	return ""
}

func (d Detection) number(keys ...string) (float64, bool) {
	for _, k := range keys {
		switch v := d[k].(type) {
		case float64:
			return v, true
		case float32:
			return float64(v), true
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		}
	}
	return 0, false
}

// SelectBest picks the detection with the largest box.
// Detections without a usable box are ignored; nil means none qualified.
func SelectBest(dets []Detection) Detection {
	var best Detection
	bestArea := -1.0
	for _, d := range dets {
		b, ok := d.Box()
		if !ok {
			continue
		}
		if a := b.Area(); a > bestArea {
			bestArea = a
			best = d
		}
	}
	return best
}
