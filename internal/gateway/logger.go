package gateway

import "github.com/nmtlab/nmtgate/internal/observability"

// Logger is the structured logger used by gateway components.
type Logger = observability.Logger

func loggerOrNop(l Logger) Logger {
	return observability.OrNop(l)
}
