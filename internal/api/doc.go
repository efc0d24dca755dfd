// Package api holds the shared contract between switchboard's pipeline
// components: the error taxonomy carried across the HTTP boundary, the
// request/result envelopes for the messages endpoint, and the Dispatcher
// interface the agent loop uses to re-issue continuation requests
// without an HTTP loopback.
//
// Keeping these in one leaf package lets the router, the agent loop, and
// the HTTP surface depend on the same types without importing each
// other.
package api
