package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidEnvelope indicates a frame with zero or several actions.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Action names used in logs and metrics labels.
const (
	ActionStartTask      = "start_task"
	ActionStopTask       = "stop_task"
	ActionDialogResponse = "dialog_response"
	ActionPing           = "ping"
)

// Response kinds used in logs and metrics labels.
const (
	KindAck           = "ack"
	KindDialogRequest = "dialog_request"
	KindEvent         = "event"
	KindProgress      = "progress"
	KindPong          = "pong"
	KindFinished      = "finished"
)

// EffectiveTaskID returns the request's task id, or DefaultTaskID when blank.
func (r *Request) EffectiveTaskID() string {
	if id := strings.TrimSpace(r.TaskID); id != "" {
		return id
	}
	return DefaultTaskID
}

// Action returns the name of the single action carried, or "" if the
// envelope is empty or carries more than one action.
func (r *Request) Action() string {
	var names []string
	if r.StartTask != nil {
		names = append(names, ActionStartTask)
	}
	if r.StopTask != nil {
		names = append(names, ActionStopTask)
	}
	if r.DialogResponse != nil {
		names = append(names, ActionDialogResponse)
	}
	if r.Ping != nil {
		names = append(names, ActionPing)
	}
	if len(names) != 1 {
		return ""
	}
	return names[0]
}

// Validate checks that exactly one action is set.
func (r *Request) Validate() error {
	if r.Action() == "" {
		return fmt.Errorf("%w: request must carry exactly one action", ErrInvalidEnvelope)
	}
	return nil
}

// Kind returns the name of the payload carried, or "" if none is set.
func (r *Response) Kind() string {
	switch {
	case r.Ack != nil:
		return KindAck
	case r.DialogRequest != nil:
		return KindDialogRequest
	case r.Event != nil:
		return KindEvent
	case r.Progress != nil:
		return KindProgress
	case r.Pong != nil:
		return KindPong
	case r.Finished != nil:
		return KindFinished
	}
	return ""
}

// NewAck builds an acknowledgement response.
func NewAck(taskID string, kind AckKind, ok bool, message string) *Response {
	return &Response{TaskID: taskID, Ack: &Ack{Kind: kind, OK: ok, Message: message}}
}

// NewPong builds a pong for seq stamped with now.
func NewPong(taskID string, seq int64, now time.Time) *Response {
	return &Response{TaskID: taskID, Pong: &Pong{Seq: seq, ServerTimestamp: now.UTC()}}
}

// NewFinished builds the terminal response.
func NewFinished(taskID string, code FinishCode, message string) *Response {
	return &Response{TaskID: taskID, Finished: &Finished{Code: code, Message: message}}
}
