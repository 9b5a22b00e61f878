// Package migrations содержит встроенные SQL-миграции scene-service.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Path - корень миграций внутри FS.
const Path = "."
