// Package appfs exposes the static files compiled into the binary.
package appfs

import "embed"

//go:embed migrations/*.sql
var FS embed.FS
