// Package logging configures structured logging for corpusmcp.
//
// All components log through log/slog with a JSON handler writing to a
// size-rotated file under ~/.corpusmcp/logs/. Setup returns a cleanup
// function the caller must defer. MCP serving mode must never write to
// stdout or stderr because the stdio transport owns both streams; use
// SetupMCPMode there.
package logging
