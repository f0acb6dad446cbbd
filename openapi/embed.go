// Package openapi embeds the HTTP API description served at /openapi.yaml.
package openapi

import _ "embed"

//go:embed openapi.yaml
var Spec []byte
