// Package assets embeds the branded fallback pages served when a request
// cannot be satisfied from a deployment's files.
package assets

import (
	_ "embed"
)

//go:embed pages/404.html
var NotFoundPage []byte

//go:embed pages/403.html
var ForbiddenPage []byte

//go:embed pages/login.html
var LoginPage []byte

//go:embed pages/placeholder.svg
var PlaceholderImage []byte
