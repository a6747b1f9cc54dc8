// Package kconsole defines the request/response types exchanged between the
// console and an execution kernel, plus the console configuration.
// Messages are JSON-encoded and sent over a Unix domain socket, one per line.
package kconsole

// Request types understood by a kernel.
const (
	TypeComplete   = "complete"
	TypeInspect    = "inspect"
	TypeExecute    = "execute"
	TypeKernelInfo = "kernel_info"
	TypeHistory    = "history"
)

// Reply status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Output types.
const (
	OutputStream = "stream"
	OutputResult = "execute_result"
	OutputError  = "error"
)

// Request is sent from the console to the kernel.
type Request struct {
	// RequestID is a per-client incrementing identifier.
	// The kernel echoes it back in the reply.
	RequestID int `json:"request_id"`
	// SessionID identifies the console session.
	SessionID string `json:"session_id"`
	// Type selects the kernel operation (complete, inspect, execute, kernel_info, history).
	Type string `json:"type"`
	// Code is the full text of the live entry.
	Code string `json:"code,omitempty"`
	// CursorPos is the byte offset of the cursor within Code.
	CursorPos int `json:"cursor_pos"`
	// DetailLevel selects how much an inspect reply should include (0 or 1).
	DetailLevel int `json:"detail_level,omitempty"`
	// N is the number of history entries requested.
	N int `json:"n,omitempty"`
}

// Error describes a kernel-side error returned to the console.
type Error struct {
	// Code is a machine-readable error identifier (e.g. "invalid_request", "busy").
	Code string `json:"code"`
	// Message is a human-readable error description.
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// CompleteReply answers a complete request.
type CompleteReply struct {
	RequestID int    `json:"request_id"`
	Status    string `json:"status"`
	// Matches are the candidate replacements for [CursorStart, CursorEnd).
	Matches     []string `json:"matches"`
	CursorStart int      `json:"cursor_start"`
	CursorEnd   int      `json:"cursor_end"`
	Error       *Error   `json:"error,omitempty"`
}

// InspectReply answers an inspect request.
type InspectReply struct {
	RequestID int        `json:"request_id"`
	Status    string     `json:"status"`
	Found     bool       `json:"found"`
	Data      MimeBundle `json:"data"`
	Error     *Error     `json:"error,omitempty"`
}

// Output is one piece of execution output attached to an entry.
type Output struct {
	// OutputType is "stream", "execute_result" or "error".
	OutputType string `json:"output_type" toml:"output_type"`
	// Name is the stream name for stream outputs (stdout, stderr).
	Name string `json:"name,omitempty" toml:"name,omitempty"`
	Text string `json:"text,omitempty" toml:"text,omitempty"`
	// EName and EValue describe an error output.
	EName     string   `json:"ename,omitempty" toml:"ename,omitempty"`
	EValue    string   `json:"evalue,omitempty" toml:"evalue,omitempty"`
	Traceback []string `json:"traceback,omitempty" toml:"traceback,omitempty"`
}

// ExecuteReply answers an execute request.
type ExecuteReply struct {
	RequestID      int      `json:"request_id"`
	Status         string   `json:"status"`
	ExecutionCount int      `json:"execution_count"`
	Outputs        []Output `json:"outputs"`
	Error          *Error   `json:"error,omitempty"`
}

// LanguageInfo describes the language a kernel executes.
type LanguageInfo struct {
	Name          string `json:"name"`
	Version       string `json:"version,omitempty"`
	Mimetype      string `json:"mimetype,omitempty"`
	FileExtension string `json:"file_extension,omitempty"`
}

// KernelInfoReply answers a kernel_info request.
type KernelInfoReply struct {
	RequestID int    `json:"request_id"`
	Status    string `json:"status"`
	// KernelID changes whenever the kernel process restarts.
	KernelID     string       `json:"kernel_id"`
	Banner       string       `json:"banner"`
	LanguageInfo LanguageInfo `json:"language_info"`
	Error        *Error       `json:"error,omitempty"`
}

// HistoryReply answers a history request with the tail of executed code, oldest first.
type HistoryReply struct {
	RequestID int      `json:"request_id"`
	Status    string   `json:"status"`
	History   []string `json:"history"`
	Error     *Error   `json:"error,omitempty"`
}
