// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"errors"
	"fmt"
)

// Sentinel errors for orchestration failures.
var (
	// ErrNoConnection means the target database could not be reached with
	// the supplied credentials.
	ErrNoConnection = errors.New("could not establish database connection")

	// ErrGeneration means the provider failed to produce a usable query.
	ErrGeneration = errors.New("query generation failed")
)

// QueryExecutionError reports that both the initial query and the repaired
// retry failed against the engine. It carries both attempts so callers can
// show the user what was tried.
type QueryExecutionError struct {
	FirstQuery string
	FirstError string
	RetryQuery string
	RetryError string
}

func (e *QueryExecutionError) Error() string {
	if e.RetryQuery == "" {
		return fmt.Sprintf("query execution failed: %s", e.FirstError)
	}
	return fmt.Sprintf("query execution failed after retry: %s (first attempt: %s)", e.RetryError, e.FirstError)
}
