// Package parse wraps tree-sitter parsing and provides the parse-cache
// coordinator that lets one parse pass serve multiple index backends
// ("parse once, index N times").
package parse

import (
	"time"
)

// Tree represents a parsed AST.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node represents a node in the AST.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point represents a position in the source code.
type Point struct {
	Row    uint32 // 0-indexed line number
	Column uint32
}

// ParsedFile is one file's parse result held in the coordinator cache.
type ParsedFile struct {
	Path     string
	Language string
	Source   []byte
	Tree     *Tree
	ParsedAt time.Time
}

// FileError records a per-file failure within a parse batch.
type FileError struct {
	Path string
	Err  error
}

// BatchStats summarizes one parse batch. Produced by Prepare, consumed by
// the update protocol, then discarded with the window.
type BatchStats struct {
	FilesProcessed int
	FilesSkipped   int
	Elapsed        time.Duration
	Errors         []FileError
}

// LanguageConfig holds configuration for a supported language.
type LanguageConfig struct {
	Name       string
	Extensions []string

	// Node types that indicate function declarations
	FunctionTypes []string

	// Node types that indicate class/struct definitions
	ClassTypes []string

	// Node types that indicate interface definitions
	InterfaceTypes []string

	// Node types that indicate method definitions
	MethodTypes []string

	// Node types that indicate type definitions
	TypeDefTypes []string

	// Node types that indicate constant declarations
	ConstantTypes []string

	// Node types that indicate variable declarations
	VariableTypes []string

	// Node types that indicate call expressions
	CallTypes []string

	// Node type for name identifier
	NameField string
}
