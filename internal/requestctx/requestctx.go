// Package requestctx carries request-scoped values through the execution
// call tree. The context is an explicit parameter everywhere it is needed;
// there is no ambient or global request state, so concurrent requests can
// never observe each other's values.
package requestctx

import (
	"log/slog"

	"github.com/quorumlabs/quorum/internal/utils"
)

type Context struct {
	ThreadID string
	Workflow string
	Step     int
	Name     string
	BasePath string
}

// New returns a context with a generated thread id. Callers continuing an
// existing conversation set ThreadID themselves.
func New(workflow string) *Context {
	return &Context{
		ThreadID: utils.ShortID(),
		Workflow: workflow,
		Step:     1,
	}
}

// LogAttrs returns the standard logging fields for this request so every
// call site tags records the same way.
func (c *Context) LogAttrs() []any {
	if c == nil {
		return nil
	}
	attrs := []any{
		slog.String("thread_id", c.ThreadID),
		slog.String("workflow", c.Workflow),
		slog.Int("step", c.Step),
	}
	if c.Name != "" {
		attrs = append(attrs, slog.String("name", c.Name))
	}
	return attrs
}

// ModelThreadID builds the composite per-model thread id used when a
// multi-model workflow keeps separate history per backend.
func ModelThreadID(base, model string) string {
	return base + "::" + model
}
