package bridge

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-cascade/pkg/hub"
)

// requestIDHeader carries a caller-chosen request id.
const requestIDHeader = "X-Request-ID"

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(Health{Status: "ok", Backend: s.backend})
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	return c.JSON(s.Stats())
}

// handleDetect runs one detection from a JSON body.
func (s *Server) handleDetect(c *fiber.Ctx) error {
	id := c.Get(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(requestIDHeader, id)

	var req DetectRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		s.requests.Add(1)
		s.failures.Add(1)
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			RequestID: id,
			Error:     "invalid request body: " + err.Error(),
			Kind:      KindBadRequest,
		})
	}

	ctx := c.UserContext()
	if err := s.acquire(ctx); err != nil {
		reply, status := s.detectFailed(id, req, err)
		return c.Status(status).JSON(reply)
	}
	defer s.release()

	reply, status := s.detect(ctx, id, req)
	return c.Status(status).JSON(reply)
}

// handleDetectWS serves a stream of detect requests. Requests run
// concurrently up to the server's in-flight limit; every reply carries the
// id of its request.
func (s *Server) handleDetectWS(c *websocket.Conn) {
	var (
		wg  sync.WaitGroup
		wmu sync.Mutex
	)
	defer wg.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	write := func(v any) {
		wmu.Lock()
		defer wmu.Unlock()
		if err := c.WriteJSON(v); err != nil {
			s.logger.Debug("stream write failed", "error", err)
		}
	}

	for {
		mt, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		var req DetectRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.requests.Add(1)
			s.failures.Add(1)
			write(ErrorResponse{
				RequestID: uuid.NewString(),
				Error:     "invalid request: " + err.Error(),
				Kind:      KindBadRequest,
			})
			continue
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}

		// Blocking here stops reading frames until a slot frees up.
		if err := s.acquire(ctx); err != nil {
			return
		}
		wg.Add(1)
		go func(req DetectRequest) {
			defer wg.Done()
			defer s.release()
			reply, _ := s.detect(ctx, req.ID, req)
			write(reply)
		}(req)
	}
}

// handleEventsWS subscribes the connection to detection events.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	client := hub.NewClient(s.events, c)
	if client == nil {
		return
	}
	client.Run()
}
