package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net"
	"os"

	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/encryption"
	"github.com/julianstephens/habitsync/internal/logger"
	"github.com/julianstephens/habitsync/internal/merge"
)

// Format formats an error message with a consistent "Error: " prefix
func Format(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("Error: %v", err)
}

// Formatf formats an error message with a consistent "Error: " prefix using a format string
func Formatf(format string, args ...any) string {
	return fmt.Sprintf("Error: "+format, args...)
}

// Fatal logs an error and exits the program with exit code 1
func Fatal(err error) {
	if err != nil {
		logger.Error("Command execution failed", "error", err)
		fmt.Fprintf(os.Stderr, "%s\n", Format(err))
		os.Exit(1)
	}
}

// Fatalf logs and formats an error message, then exits the program with exit code 1
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	logger.Error("Command execution failed", "error", msg)
	fmt.Fprintf(os.Stderr, "%s\n", Formatf(format, args...))
	os.Exit(1)
}

// IsFatalSync reports whether err stops a sync for good: retrying with the
// same inputs cannot succeed.
func IsFatalSync(err error) bool {
	return stdErrors.Is(err, merge.ErrSchemaMismatch) || stdErrors.Is(err, encryption.ErrDecryptionFailed)
}

// SyncStatus maps the outcome of a sync cycle to the status shown to the user.
// Details of fatal failures stay in the log.
func SyncStatus(err error) string {
	if err == nil {
		return constants.SyncStatusOK
	}
	if IsFatalSync(err) {
		return constants.SyncStatusError
	}
	var netErr net.Error
	if stdErrors.As(err, &netErr) || stdErrors.Is(err, context.DeadlineExceeded) {
		return constants.SyncStatusOffline
	}
	return constants.SyncStatusError
}
