package webassets

import _ "embed"

// IndexHTML is the default single-page app served when web.index_file is not
// configured.
//
//go:embed index.html
var IndexHTML []byte
