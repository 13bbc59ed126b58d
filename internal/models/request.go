package models

import "time"

// ExecutionRequest describes one logical request fanned out to a set of
// backends. Models keeps its caller-supplied order; results come back in
// the same order.
type ExecutionRequest struct {
	Prompt       string
	Models       []string
	Temperature  float64
	Timeout      time.Duration
	EnableSearch bool
}
