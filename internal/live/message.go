package live

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/desertthunder/crawlctl/internal/models"
)

// Message is one decoded inbound frame: either a status update or a control message.
type Message struct {
	Update  *models.StatusUpdate
	Control *models.ControlMessage
}

// IsUpdate reports whether the frame carried a task status.
func (m Message) IsUpdate() bool { return m.Update != nil }

// ParseMessage decodes a frame. A frame is a status update when it has a "status" key, regardless of its "type".
func ParseMessage(data []byte) (Message, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return Message{}, fmt.Errorf("invalid frame: %w", err)
	}

	if _, ok := keys["status"]; ok {
		var u models.StatusUpdate
		if err := json.Unmarshal(data, &u); err != nil {
			return Message{}, fmt.Errorf("invalid status update: %w", err)
		}
		if u.TaskID == "" {
			return Message{}, fmt.Errorf("status update without task_id")
		}
		return Message{Update: &u}, nil
	}

	var c models.ControlMessage
	if err := json.Unmarshal(data, &c); err != nil {
		return Message{}, fmt.Errorf("invalid control message: %w", err)
	}
	return Message{Control: &c}, nil
}

// Endpoint builds the channel URL for taskID from the platform origin.
// http and https origins become ws and wss; any path on the origin is discarded.
func Endpoint(origin, taskID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return "", fmt.Errorf("invalid origin %q: %w", origin, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid origin %q: unsupported scheme", origin)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid origin %q: missing host", origin)
	}
	u.Path = "/ws/tasks/" + url.PathEscape(taskID)
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// HTTPOrigin converts a channel endpoint back to the http(s) origin sent in the handshake.
func HTTPOrigin(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	return u.Scheme + "://" + u.Host
}
