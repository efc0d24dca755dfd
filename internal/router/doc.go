// Package router resolves each messages request to one upstream
// provider, applies its transformer chain, and dispatches it.
//
// The model field names both halves of the decision ("provider,model").
// API keys rotate round-robin per provider; an optional per-provider
// limit bounds in-flight requests with a small wait queue behind it.
// Streaming responses flow through the SSE parser, the chain's stream
// hooks, the agent-loop interceptor, and a usage sink before reaching
// the client.
package router
