// Package errors provides standardized error handling for resourcekit components.
//
// # Overview
//
// Errors fall into three classes: Transient (a later pass may succeed), Invalid
// (bad input or configuration) and Fatal (stop the process). Components use the
// class to decide whether to propagate, log and continue, or abort.
//
// How each resourcekit path treats errors:
//
//   - Cache eviction and TTL expiry never produce errors. A miss is an ordinary
//     (zero, false) result.
//   - Batch task failures are returned to the caller verbatim so errors.Is and
//     errors.As keep working on the caller's own error values.
//   - Storage maintenance failures are logged and swallowed by the background
//     processor.
//   - Measured blocks have their error returned unchanged after timing is recorded.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Three wrappers attach a class while wrapping:
//
//	errors.WrapTransient(err, "usagestore", "DeleteRecordsOlderThan", "delete")
//	errors.WrapInvalid(err, "config", "Validate", "cache section")
//	errors.WrapFatal(err, "metric", "Start", "listen")
//
// The plain Wrap function adds context without changing the class of err.
//
// # Standard Error Variables
//
//   - Lifecycle: ErrNotConfigured, ErrAlreadyStarted, ErrAlreadyStopped
//   - Input: ErrInvalidData, ErrInvalidConfig, ErrMissingConfig
//   - Resources: ErrQueueFull, ErrStorageUnavailable, ErrMemoryUnavailable, ErrResourceExhausted
//
// # Integration with errors.As/Is
//
//	var ce *errors.ClassifiedError
//	if stderrors.As(err, &ce) {
//	    logger.Warn("classified failure", "component", ce.Component, "class", ce.Class)
//	}
package errors
