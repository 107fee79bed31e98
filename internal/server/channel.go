package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/net/websocket"

	"github.com/desertthunder/crawlctl/internal/models"
)

// ChannelHandler serves live task channels. Each connection receives a greeting, then every status
// update published for its task; a {"action":"ping"} frame is answered with {"type":"pong"}.
type ChannelHandler struct {
	hub    *Hub
	logger *log.Logger
}

func NewChannelHandler(hub *Hub, logger *log.Logger) *ChannelHandler {
	return &ChannelHandler{hub: hub, logger: logger}
}

// Routes returns the HTTP routes this handler serves.
func (h *ChannelHandler) Routes() []string {
	return []string{"GET /ws/tasks/{id}"}
}

func (h *ChannelHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	websocket.Server{Handler: func(ws *websocket.Conn) { h.serve(ws, taskID) }}.ServeHTTP(w, r)
}

func (h *ChannelHandler) serve(ws *websocket.Conn, taskID string) {
	logger := h.logger.With("task", taskID)
	events, unsubscribe := h.hub.Subscribe(taskID)
	defer unsubscribe()

	var wmu sync.Mutex
	send := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		return websocket.JSON.Send(ws, v)
	}

	if err := send(models.ControlMessage{
		Type:    models.ControlConnection,
		TaskID:  taskID,
		Message: fmt.Sprintf("Connected to task %s", taskID),
	}); err != nil {
		return
	}
	logger.Debug("channel connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var frame string
			if err := websocket.Message.Receive(ws, &frame); err != nil {
				return
			}
			var cmd models.PingCommand
			if err := json.Unmarshal([]byte(frame), &cmd); err != nil {
				logger.Warn("invalid frame from client", "frame", frame)
				continue
			}
			if cmd.Action == models.Ping().Action {
				if err := send(models.ControlMessage{Type: models.ControlPong}); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-done:
			logger.Debug("channel disconnected")
			return
		case b, ok := <-events:
			if !ok {
				return
			}
			wmu.Lock()
			err := websocket.Message.Send(ws, string(b))
			wmu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
