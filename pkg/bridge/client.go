package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-cascade/internal/httpc"
	"github.com/teslashibe/go-cascade/pkg/asset"
	"github.com/teslashibe/go-cascade/pkg/cascade"
)

// Client talks to a bridge server.
type Client struct {
	baseURL string
	http    *http.Client
	dialer  *websocket.Dialer
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the shared httpc client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a client for the server at baseURL, e.g.
// "http://localhost:8080".
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpc.Client,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Detect runs classifier on image through POST /api/detect. Server-side
// failures are returned as *RemoteError.
func (c *Client) Detect(ctx context.Context, classifier string, image asset.Reference) ([]cascade.Detection, error) {
	body, err := json.Marshal(DetectRequest{Classifier: classifier, Image: image})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/detect", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bridge: detect: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bridge: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e ErrorResponse
		if err := json.Unmarshal(data, &e); err != nil || e.Error == "" {
			return nil, &RemoteError{StatusCode: resp.StatusCode, Kind: KindInternal, Message: strings.TrimSpace(string(data))}
		}
		return nil, &RemoteError{StatusCode: resp.StatusCode, RequestID: e.RequestID, Kind: e.Kind, Message: e.Error}
	}

	var out DetectResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("bridge: decode response: %w", err)
	}
	if out.Objects == nil {
		out.Objects = []cascade.Detection{}
	}
	return out.Objects, nil
}

// Health calls GET /api/health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return h, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return h, fmt.Errorf("bridge: health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return h, &RemoteError{StatusCode: resp.StatusCode, Kind: KindInternal, Message: resp.Status}
	}
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return h, fmt.Errorf("bridge: decode health: %w", err)
	}
	return h, nil
}

// Result is one reply on a detect stream.
type Result struct {
	ID        string
	RequestID string
	Objects   []cascade.Detection
	Err       error
}

// Stream is an open /ws/detect connection. Send and Recv may be used from
// different goroutines.
type Stream struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// DetectStream opens a websocket detect stream.
func (c *Client) DetectStream(ctx context.Context) (*Stream, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("bridge: parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u = u.JoinPath("ws", "detect")

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: dial stream: %w", err)
	}
	return &Stream{conn: conn}, nil
}

// Send queues a request. req.ID should be set to match replies.
func (s *Stream) Send(req DetectRequest) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(req)
}

// Recv blocks for the next reply. A failed detection comes back as a
// Result with Err set to a *RemoteError; the returned error is only for
// the connection itself.
func (s *Stream) Recv() (Result, error) {
	var raw struct {
		ID        string              `json:"id"`
		RequestID string              `json:"request_id"`
		Objects   []cascade.Detection `json:"objects"`
		Error     string              `json:"error"`
		Kind      string              `json:"kind"`
	}
	if err := s.conn.ReadJSON(&raw); err != nil {
		return Result{}, err
	}

	res := Result{ID: raw.ID, RequestID: raw.RequestID, Objects: raw.Objects}
	if raw.Error != "" {
		res.Err = &RemoteError{RequestID: raw.RequestID, Kind: raw.Kind, Message: raw.Error}
		res.Objects = nil
	} else if res.Objects == nil {
		res.Objects = []cascade.Detection{}
	}
	return res, nil
}

// Close sends a close frame and closes the connection.
func (s *Stream) Close() error {
	s.wmu.Lock()
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.wmu.Unlock()
	return s.conn.Close()
}
