package metrics

import "codeberg.org/mutker/dsostream/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrConfiguration
	ErrInvalidAddr   = errors.ErrorCode("metrics_invalid_addr")

	// Service Errors
	ErrServiceShutdown = errors.ErrShutdownFailed

	// Collection Errors
	ErrInvalidMetrics = errors.ErrorCode("metrics_invalid_metrics")
)
