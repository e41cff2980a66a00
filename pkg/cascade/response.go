package cascade

import (
	"encoding/json"
	"fmt"
	"image"
	"strconv"
)

// ParseResponse interprets a backend classification reply.
//
// A nil or zero-length reply means no detections and yields an empty,
// non-nil slice. The JSON document null is not empty: it lacks objects. A non-empty reply must be JSON with a truthy "objects"
// list; anything else is a *ClassificationError. When the reply parses but
// lacks objects, the parsed document is kept in ClassificationError.Response.
func ParseResponse(raw []byte) ([]Detection, error) {
	if len(raw) == 0 {
		return []Detection{}, nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &ClassificationError{
			Raw: string(raw),
			Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err),
		}
	}

	obj, _ := doc.(map[string]any)
	objects := obj["objects"]
	if !truthy(objects) {
		return nil, &ClassificationError{Response: doc, Raw: string(raw), Err: ErrMissingObjects}
	}

	list, ok := objects.([]any)
	if !ok {
		return nil, &ClassificationError{
			Response: doc,
			Raw:      string(raw),
			Err:      fmt.Errorf("%w: objects is %T, not a list", ErrMalformedResponse, objects),
		}
	}

	dets := make([]Detection, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, &ClassificationError{
				Response: doc,
				Raw:      string(raw),
				Err:      fmt.Errorf("%w: objects[%d] is %T", ErrMalformedResponse, i, item),
			}
		}
		dets = append(dets, Detection(m))
	}
	return dets, nil
}

// truthy follows JSON-value truthiness: null, false, 0 and "" are false.
// Empty lists and objects are true.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

type encodedObject struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	ID     string  `json:"id"`
}

type encodedResponse struct {
	Objects []encodedObject `json:"objects"`
}

// EncodeObjects renders classifier hits in the backend reply format:
// {"objects":[{"x","y","width","height","id"}]} with coordinates normalized
// to the cols x rows image. No hits encode as {"objects":[]}.
func EncodeObjects(rects []image.Rectangle, cols, rows int) []byte {
	w, h := float64(cols), float64(rows)
	if w <= 0 {
		w = 1
	}
	if h <= 0 {
		h = 1
	}

	resp := encodedResponse{Objects: make([]encodedObject, 0, len(rects))}
	for i, r := range rects {
		resp.Objects = append(resp.Objects, encodedObject{
			X:      float64(r.Min.X) / w,
			Y:      float64(r.Min.Y) / h,
			Width:  float64(r.Dx()) / w,
			Height: float64(r.Dy()) / h,
			ID:     strconv.Itoa(i),
		})
	}

	data, _ := json.Marshal(resp)
	return data
}
