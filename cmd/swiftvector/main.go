// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command swiftvector drives the deterministic state orchestrator from the
// command line: simulated agent sessions, the reference scenario, and
// verification, replay and inspection of persisted audit logs.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// Exit codes.
const (
	ExitSuccess = 0

	// ExitCheckFailed means the command ran but a verification failed.
	ExitCheckFailed = 1

	// ExitError means the command could not run.
	ExitError = 2
)

// checkFailedError marks a failed integrity or replay check.
type checkFailedError struct{ err error }

func (e *checkFailedError) Error() string { return e.err.Error() }
func (e *checkFailedError) Unwrap() error { return e.err }

func checkFailed(err error) error {
	if err == nil {
		return nil
	}
	return &checkFailedError{err: err}
}

func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var cf *checkFailedError
	if errors.As(err, &cf) {
		return ExitCheckFailed
	}
	return ExitError
}
