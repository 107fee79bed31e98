package models

// Control message types sent by the platform on a live channel.
const (
	ControlConnection = "connection"
	ControlPong       = "pong"
)

// ControlMessage is a connection greeting or keepalive reply.
type ControlMessage struct {
	Type    string `json:"type"`
	TaskID  string `json:"task_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// StatusUpdate is a task status change pushed over a live channel.
//
// Progress and Result are optional on the wire; a nil value means the frame did not carry the field.
type StatusUpdate struct {
	TaskID   string     `json:"task_id"`
	Status   TaskStatus `json:"status"`
	Progress *int       `json:"progress,omitempty"`
	Message  string     `json:"message,omitempty"`
	Result   any        `json:"result,omitempty"`
	Error    string     `json:"error,omitempty"`
	Type     string     `json:"type,omitempty"`
}

// Fields converts the update into the partial task update applied by the store.
func (u StatusUpdate) Fields() TaskFields {
	f := TaskFields{Result: u.Result}
	if u.Status != "" {
		status := u.Status
		f.Status = &status
	}
	if u.Progress != nil {
		p := *u.Progress
		f.Progress = &p
	}
	if u.Error != "" {
		msg := u.Error
		f.Error = &msg
	}
	return f
}

// PingCommand is the keepalive frame a client may send; the platform answers with a pong.
type PingCommand struct {
	Action string `json:"action"`
}

// Ping returns the keepalive command.
func Ping() PingCommand {
	return PingCommand{Action: "ping"}
}
