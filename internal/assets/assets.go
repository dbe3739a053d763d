// Package assets holds files compiled into the binary.
package assets

import _ "embed"

// GateJS is the client-context script served at /gate.js. It expects a
// window.__trafficgate settings object to be defined before it runs.
//
//go:embed gate.js
var GateJS []byte
