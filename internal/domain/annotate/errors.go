package annotate

import "errors"

// ErrParseDocument is returned when the document cannot be parsed as HTML.
var ErrParseDocument = errors.New("parse document")
