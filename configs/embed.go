// Package configs provides the embedded configuration template shipped
// with the normrag binary. The template is embedded at build time so
// `normrag config init` works from any distribution.
package configs

import _ "embed"

// ConfigTemplate is the commented normrag.yaml template written by
// `normrag config init`.
//
//go:embed normrag.example.yaml
var ConfigTemplate string
