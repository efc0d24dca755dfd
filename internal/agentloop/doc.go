// Package agentloop intercepts tool_use blocks in assistant streams,
// runs the matching local tool handlers, and continues the conversation
// by re-dispatching the request with the tool results appended.
//
// The loop never blocks the passthrough: tool handlers run async and
// report through synthesized tool:result / tool:error events. Once the
// assistant turn ends (message_delta seen, all handlers finished), the
// loop clones the conversation, appends the assistant's tool_use blocks
// and a user message with the results, and dispatches the continuation
// in-process. Continuation depth is bounded by maxToolRounds.
package agentloop
