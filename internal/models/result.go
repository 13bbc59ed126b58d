package models

import "time"

type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusError   ResultStatus = "error"
	StatusTimeout ResultStatus = "timeout"
)

// ErrorKind categorizes a failed execution so callers can decide whether a
// retry is worthwhile. Empty for successful results.
type ErrorKind string

const (
	ErrKindUnknownModel ErrorKind = "unknown_model"
	ErrKindAuth         ErrorKind = "auth"
	ErrKindRateLimit    ErrorKind = "rate_limit"
	ErrKindNetwork      ErrorKind = "network"
	ErrKindSpawn        ErrorKind = "process_spawn"
	ErrKindTimeout      ErrorKind = "process_timeout"
	ErrKindExit         ErrorKind = "process_exit"
	ErrKindInternal     ErrorKind = "internal"
)

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ExecutionResult is the per-model outcome of one fan-out slot. Every
// requested model produces exactly one result; faults are carried here as
// data, never as panics or dropped slots.
type ExecutionResult struct {
	Model       string        `json:"model"`
	Status      ResultStatus  `json:"status"`
	Content     string        `json:"content"`
	ParseFailed bool          `json:"parse_failed,omitempty"`
	ErrorKind   ErrorKind     `json:"error_kind,omitempty"`
	ErrorDetail string        `json:"error_detail,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Latency     time.Duration `json:"latency_ms"`
	Usage       *Usage        `json:"usage,omitempty"`
}

func ErrorResult(model string, kind ErrorKind, detail string, latency time.Duration) ExecutionResult {
	return ExecutionResult{
		Model:       model,
		Status:      StatusError,
		ErrorKind:   kind,
		ErrorDetail: detail,
		Latency:     latency,
	}
}

// TimeoutResult keeps whatever partial output was captured before the
// deadline. Partial content is diagnostic only and never marked success.
func TimeoutResult(model string, detail string, partial string, latency time.Duration) ExecutionResult {
	return ExecutionResult{
		Model:       model,
		Status:      StatusTimeout,
		Content:     partial,
		ErrorKind:   ErrKindTimeout,
		ErrorDetail: detail,
		Latency:     latency,
	}
}
