// Package mcp implements the Model Context Protocol (MCP) server for
// corpusmcp. Tools mirror the orchestrator's read operations; resources
// expose stats and health documents.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/corpusmcp/corpusmcp/internal/async"
	corpuserr "github.com/corpusmcp/corpusmcp/internal/errors"
)

// Server-defined JSON-RPC error codes. Clients branch on these: a corrupt
// index wants a rebuild, a building index wants a retry.
const (
	// ErrCodeCorruptIndex reports a failed integrity check. The message
	// carries the rebuild command.
	ErrCodeCorruptIndex = -32001

	// ErrCodeIndexBuilding reports that the background build has not
	// finished and queries would block on the exclusive lock.
	ErrCodeIndexBuilding = -32002

	// ErrCodeTimeout reports an expired or canceled request.
	ErrCodeTimeout = -32003

	// ErrCodeFileNotFound reports an indexed file missing from disk.
	ErrCodeFileNotFound = -32004
)

// Standard JSON-RPC error codes.
const (
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// ProtocolError is a JSON-RPC error returned to MCP clients.
type ProtocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors into protocol errors. Engine errors
// map by code and category; anything unrecognized collapses to a generic
// internal error so engine details never leak to clients.
func MapError(err error) *ProtocolError {
	if err == nil {
		return nil
	}

	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr
	}

	var cerr *corpuserr.CorpusError
	if errors.As(err, &cerr) {
		return mapCorpusError(cerr)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ProtocolError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &ProtocolError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &ProtocolError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// mapCorpusError picks the protocol code for an engine error. Corruption
// and the unknown-partition fail-fast map by code so their messages (with
// suggestions) reach the client verbatim; the rest map by category.
func mapCorpusError(cerr *corpuserr.CorpusError) *ProtocolError {
	message := cerr.Message
	if cerr.Suggestion != "" {
		message = fmt.Sprintf("%s %s", cerr.Message, cerr.Suggestion)
	}

	switch cerr.Code {
	case corpuserr.ErrCodeCorruptIndex:
		return &ProtocolError{Code: ErrCodeCorruptIndex, Message: message}
	case corpuserr.ErrCodeUnknownPartition:
		return &ProtocolError{Code: ErrCodeInvalidParams, Message: message}
	case corpuserr.ErrCodeFileNotFound:
		return &ProtocolError{Code: ErrCodeFileNotFound, Message: message}
	}

	switch cerr.Category {
	case corpuserr.CategoryNetwork:
		return &ProtocolError{Code: ErrCodeTimeout, Message: message}
	case corpuserr.CategoryValidation:
		return &ProtocolError{Code: ErrCodeInvalidParams, Message: message}
	default:
		return &ProtocolError{Code: ErrCodeInternalError, Message: message}
	}
}

// NewInvalidParamsError creates an invalid parameters error.
func NewInvalidParamsError(message string) *ProtocolError {
	return &ProtocolError{Code: ErrCodeInvalidParams, Message: message}
}

// NewMethodNotFoundError creates an error for an unknown tool name.
func NewMethodNotFoundError(toolName string) *ProtocolError {
	return &ProtocolError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", toolName),
	}
}

// NewResourceNotFoundError creates an error for an unknown resource URI.
func NewResourceNotFoundError(uri string) *ProtocolError {
	return &ProtocolError{
		Code:    ErrCodeInvalidParams,
		Message: fmt.Sprintf("Resource '%s' not found.", uri),
	}
}

// NewIndexBuildingError reports an in-flight background build. Structured
// tool outputs cannot carry the progress document, so the message
// summarizes it and points at index_status.
func NewIndexBuildingError(snap async.Snapshot) *ProtocolError {
	return &ProtocolError{
		Code: ErrCodeIndexBuilding,
		Message: fmt.Sprintf(
			"Index build in progress: %s stage, %.1f%% complete. Retry shortly, or call index_status for live progress.",
			snap.Stage, snap.ProgressPct,
		),
	}
}
