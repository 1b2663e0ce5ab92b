package hook

import (
	"context"
	"log/slog"
)

// Chain delivers callbacks to several hooks in order. A panicking hook is
// logged and skipped; the others still run.
type Chain struct {
	hooks  []AgentHook
	logger *slog.Logger
}

var _ AgentHook = (*Chain)(nil)

// NewChain creates a chain of hooks.
func NewChain(logger *slog.Logger, hooks ...AgentHook) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{hooks: hooks, logger: logger.With("component", "hook_chain")}
}

// OnAgentResponse forwards message to every hook.
func (c *Chain) OnAgentResponse(ctx context.Context, ec ExecutionContext, message any) {
	for _, h := range c.hooks {
		c.safely("on_agent_response", func() { h.OnAgentResponse(ctx, ec, message) })
	}
}

// OnTeardown forwards teardown to every hook.
func (c *Chain) OnTeardown(ctx context.Context, ec ExecutionContext) {
	for _, h := range c.hooks {
		c.safely("on_teardown", func() { h.OnTeardown(ctx, ec) })
	}
}

func (c *Chain) safely(callback string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("hook panicked", "callback", callback, "panic", r)
		}
	}()
	fn()
}
