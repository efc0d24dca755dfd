// Package logging provides the structured logging system for switchboard.
//
// It is a thin wrapper over Go's standard slog package that adds a
// subsystem label to every entry and printf-style formatting at the call
// site. All log entries include a timestamp, the level, the subsystem
// identifier, the message, and an optional error.
//
// Initialization:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//
// Usage:
//
//	logging.Info("Router", "Forwarding request to provider %s", name)
//	logging.Error("Aggregator", err, "Failed to open session %s", id)
//
// Subsystems in use include Router, AgentLoop, Aggregator, MCPManager,
// Transformer, UsageCache, Server, Config, and Bootstrap.
package logging
