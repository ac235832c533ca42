// Package configs embeds the example configuration written by
// `indexhost init`.
package configs

import _ "embed"

// ExampleConfig is a commented configuration with one writable index and
// the replication settings disabled.
//
//go:embed indexhost.example.yaml
var ExampleConfig string
