// Package protocol defines the messages exchanged over a task stream.
//
// Every frame is an envelope carrying a task identifier and exactly one
// action. Client → server frames are Requests, server → client frames are
// Responses. Enumerations travel as lower-case strings so the JSON and CBOR
// encodings stay readable and stable.
package protocol

import "time"

// DefaultTaskID is used when a request carries a blank task identifier.
const DefaultTaskID = "single"

// DialogKind tells the client how to render a dialog.
type DialogKind string

const (
	DialogKindInfo    DialogKind = "info"
	DialogKindConfirm DialogKind = "confirm"
	DialogKindCustom  DialogKind = "custom"
)

// DialogResult is the user's answer to a dialog.
type DialogResult string

const (
	DialogResultOK     DialogResult = "ok"
	DialogResultCancel DialogResult = "cancel"
	DialogResultCustom DialogResult = "custom"
)

// EventLevel is the severity of a task event.
type EventLevel string

const (
	EventLevelInfo  EventLevel = "info"
	EventLevelWarn  EventLevel = "warn"
	EventLevelError EventLevel = "error"
)

// ProgressState is the coarse state carried by a progress snapshot.
type ProgressState string

const (
	ProgressStateWaiting ProgressState = "waiting"
	ProgressStateRunning ProgressState = "running"
	ProgressStateSuccess ProgressState = "success"
	ProgressStateError   ProgressState = "error"
	ProgressStateCancel  ProgressState = "cancel"
)

// AckKind identifies which command an acknowledgement answers.
type AckKind string

const (
	AckKindStart  AckKind = "start"
	AckKindStop   AckKind = "stop"
	AckKindDialog AckKind = "dialog"
)

// FinishCode is the terminal classification sent in Finished.
type FinishCode string

const (
	FinishCodeSuccess FinishCode = "success"
	FinishCodeCancel  FinishCode = "cancel"
	FinishCodeError   FinishCode = "error"
)

// ────────────────────────────────────────────────────────────
// Client → server
// ────────────────────────────────────────────────────────────

// StartTask asks the server to start a task body.
type StartTask struct {
	TaskType        string `json:"task_type"`
	ConfigJSON      string `json:"config_json,omitempty"`
	TargetDirectory string `json:"target_directory,omitempty"`
}

// StopTask asks the server to cancel the running task.
type StopTask struct{}

// DialogResponse answers a DialogRequest with the same DialogID.
type DialogResponse struct {
	DialogID    string       `json:"dialog_id"`
	Result      DialogResult `json:"result"`
	PayloadJSON string       `json:"payload_json,omitempty"`
}

// Ping is a client keepalive; the server echoes Seq in a Pong.
type Ping struct {
	Seq             int64     `json:"seq"`
	ClientTimestamp time.Time `json:"client_ts,omitzero"`
}

// Request is the client → server envelope. Exactly one action field is set.
type Request struct {
	TaskID         string          `json:"task_id,omitempty"`
	StartTask      *StartTask      `json:"start_task,omitempty"`
	StopTask       *StopTask       `json:"stop_task,omitempty"`
	DialogResponse *DialogResponse `json:"dialog_response,omitempty"`
	Ping           *Ping           `json:"ping,omitempty"`
}

// ────────────────────────────────────────────────────────────
// Server → client
// ────────────────────────────────────────────────────────────

// Ack acknowledges a Start, Stop or DialogResponse command.
type Ack struct {
	Kind    AckKind `json:"kind"`
	OK      bool    `json:"ok"`
	Message string  `json:"message,omitempty"`
}

// DialogRequest asks the client for synchronous user input.
// TimeoutSeconds is advisory; the server never enforces it.
type DialogRequest struct {
	DialogID       string     `json:"dialog_id"`
	Kind           DialogKind `json:"kind"`
	Title          string     `json:"title"`
	Message        string     `json:"message"`
	PayloadJSON    string     `json:"payload_json,omitempty"`
	TimeoutSeconds int64      `json:"timeout_seconds,omitempty"`
}

// Event is a log line produced by a task.
type Event struct {
	Timestamp time.Time  `json:"ts"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Stage     string     `json:"stage,omitempty"`
	Code      string     `json:"code,omitempty"`
}

// Progress is a point-in-time progress snapshot.
type Progress struct {
	Percent        float64       `json:"percent"`
	CurrentBytes   int64         `json:"current_bytes,omitempty"`
	TotalBytes     int64         `json:"total_bytes,omitempty"`
	BytesPerSecond int64         `json:"bytes_per_second,omitempty"`
	ETASeconds     int64         `json:"eta_seconds,omitempty"`
	State          ProgressState `json:"state"`
}

// Pong answers a Ping.
type Pong struct {
	Seq             int64     `json:"seq"`
	ServerTimestamp time.Time `json:"server_ts"`
}

// Finished is always the last message of a session that ran a task.
type Finished struct {
	Code    FinishCode `json:"code"`
	Message string     `json:"message,omitempty"`
}

// Response is the server → client envelope. Exactly one payload field is set.
type Response struct {
	TaskID        string         `json:"task_id,omitempty"`
	Ack           *Ack           `json:"ack,omitempty"`
	DialogRequest *DialogRequest `json:"dialog_request,omitempty"`
	Event         *Event         `json:"event,omitempty"`
	Progress      *Progress      `json:"progress,omitempty"`
	Pong          *Pong          `json:"pong,omitempty"`
	Finished      *Finished      `json:"finished,omitempty"`
}
