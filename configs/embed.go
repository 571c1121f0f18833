// Package configs provides embedded configuration templates for corpusmcp.
//
// Templates are embedded at build time with //go:embed so they ship in
// every distribution, source builds and binary releases alike.
//
// The templates are used by:
//   - cmd/corpusmcp/cmd/init.go: creates .corpusmcp.yaml in the project root
//   - user setup: copied to ~/.config/corpusmcp/config.yaml by hand
//
// Configuration hierarchy (see internal/config Load):
//  1. Hardcoded defaults (internal/config NewConfig)
//  2. User config (~/.config/corpusmcp/config.yaml)
//  3. Project config (.corpusmcp.yaml)
//  4. Environment variables (CORPUSMCP_*)
package configs

import _ "embed"

// ProjectConfigTemplate is the template for project-level configuration,
// written to .corpusmcp.yaml by 'corpusmcp init'. It holds settings that
// are version-controlled with the project: partitions, exclude patterns,
// and search weights.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string

// UserConfigTemplate is the template for user/machine-level
// configuration at ~/.config/corpusmcp/config.yaml. It holds settings
// that apply to every project on this machine, like the Ollama host.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
