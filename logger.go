package layerkv

import "github.com/unkn0wn-root/layerkv/logging"

// Logger and Fields are re-exported so callers configuring Options need not
// import the logging package for the common case.
type (
	Logger = logging.Logger
	Fields = logging.Fields
)

// NopLogger discards everything.
type NopLogger = logging.Nop
