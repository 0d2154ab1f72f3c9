// Package configs embeds the example files written by "regsearch config init".
package configs

import _ "embed"

// ConfigTemplate is a fully commented configuration matching the defaults.
//
//go:embed regsearch.example.yaml
var ConfigTemplate string

// SynonymsTemplate is a starter synonyms file.
//
//go:embed synonyms.example.yaml
var SynonymsTemplate string
