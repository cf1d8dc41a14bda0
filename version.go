package recordstore

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionFile string

// Version is the release of the record store library and its tools.
var Version = strings.TrimSpace(versionFile)
