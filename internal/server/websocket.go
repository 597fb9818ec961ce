package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/docrec/internal/pipeline"
	"github.com/MeKo-Tech/docrec/internal/service"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WebSocketRequest asks for one recognition. Image is base64 in JSON.
type WebSocketRequest struct {
	Type     string `json:"type"` // "recognize"
	JobID    string `json:"job_id,omitempty"`
	Template string `json:"template"`
	Image    []byte `json:"image"`
}

// WebSocketResponse reports the progress of a request.
type WebSocketResponse struct {
	Type      string          `json:"type"`
	Status    string          `json:"status"` // "processing", "completed", "error"
	RequestID string          `json:"request_id,omitempty"`
	Result    *service.Result `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorType string          `json:"error_type,omitempty"`
}

// wsWriter is the part of *websocket.Conn used to send messages.
type wsWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// recognizeWebSocketHandler serves recognitions over a WebSocket; each
// text message is one request.
func (s *Server) recognizeWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()
	s.logger.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		if mt == websocket.TextMessage {
			s.handleWebSocketMessage(ctx, conn, data)
		}
	}
}

func (s *Server) handleWebSocketMessage(ctx context.Context, conn wsWriter, data []byte) {
	var req WebSocketRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocket(conn, WebSocketResponse{Type: "error", Status: "error", ErrorType: "invalid_request",
			Error: fmt.Sprintf("failed to parse request: %v", err)})
		return
	}
	if req.Type != "recognize" {
		s.sendWebSocket(conn, WebSocketResponse{Type: "error", Status: "error", ErrorType: "invalid_request",
			Error: "unsupported request type: " + req.Type})
		return
	}
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	if len(req.Image) == 0 {
		s.sendWebSocket(conn, WebSocketResponse{Type: "recognize", Status: "error", RequestID: req.JobID,
			ErrorType: "invalid_request", Error: "no image data provided"})
		return
	}

	s.sendWebSocket(conn, WebSocketResponse{Type: "recognize", Status: "processing", RequestID: req.JobID})

	if s.cfg.TimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutSec)*time.Second)
		defer cancel()
	}
	res, err := s.recognize(ctx, service.Request{
		JobID:    req.JobID,
		Template: req.Template,
		Source:   pipeline.FromBytes(req.Image),
	})
	if err != nil {
		_, code := classify(err)
		s.sendWebSocket(conn, WebSocketResponse{Type: "recognize", Status: "error", RequestID: req.JobID,
			ErrorType: code, Error: err.Error()})
		return
	}
	s.sendWebSocket(conn, WebSocketResponse{Type: "recognize", Status: "completed", RequestID: req.JobID, Result: res})
}

func (s *Server) sendWebSocket(conn wsWriter, resp WebSocketResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("Failed to marshal WebSocket response", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Warn("Failed to send WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}
