// Package app bootstraps the process: it loads configuration, wires the
// routing pipeline, the MCP upstream manager and aggregator, and the
// HTTP surface together, and owns the run/shutdown/restart lifecycle.
package app
