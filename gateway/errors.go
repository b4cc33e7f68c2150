package gateway

import (
	"fmt"
	"strings"
)

// ExhaustedError reports that every model candidate in the fallback
// chain failed. LastErr is the final underlying failure; earlier
// failures are logged as the chain advances.
type ExhaustedError struct {
	Models  []string
	LastErr error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all model candidates failed (tried %s): %v",
		strings.Join(e.Models, ", "), e.LastErr)
}

// Unwrap returns the last underlying failure.
func (e *ExhaustedError) Unwrap() error { return e.LastErr }
