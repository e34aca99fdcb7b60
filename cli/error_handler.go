package cli

import (
	"fmt"
	"os"

	"github.com/codemie-ai/codemie-code/errors"
)

// ErrorHandler provides user-friendly error messages
type ErrorHandler struct {
	Verbose bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(verbose bool) *ErrorHandler {
	return &ErrorHandler{
		Verbose: verbose,
	}
}

// Handle provides user-friendly error messages based on error type
func (h *ErrorHandler) Handle(err error) error {
	switch errors.GetCode(err) {
	case errors.ErrCodeConfigNotFound:
		fmt.Fprintf(os.Stderr, "Configuration not found. Create a codemie.yml or set CODEMIE_HOME.\n")
		return err

	case errors.ErrCodeSessionNotFound:
		if cErr, ok := err.(*errors.CodemieError); ok {
			fmt.Fprintf(os.Stderr, "Session '%s' not found\n", cErr.Details["sessionId"])
			fmt.Fprintf(os.Stderr, "Run 'codemie status' to see known sessions.\n")
		}
		return err

	case errors.ErrCodeLockHeld:
		if cErr, ok := err.(*errors.CodemieError); ok {
			fmt.Fprintf(os.Stderr, "Session '%s' is being synced by PID %v, try again later\n",
				cErr.Details["sessionId"], cErr.Details["pid"])
		}
		return err

	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		if h.Verbose {
			if cErr, ok := err.(*errors.CodemieError); ok {
				fmt.Fprintf(os.Stderr, "%s\n", cErr.ToJSON())
			}
		}
		return err
	}
}
