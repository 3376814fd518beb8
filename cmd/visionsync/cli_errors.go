// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/jllopis/visionsync/pkg/errors"
)

// CLIError wraps a typed error with a hint for the operator.
type CLIError struct {
	Err  *errors.Error
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(e *errors.Error, hint string) *CLIError {
	return &CLIError{Err: e, Hint: hint}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.Err == nil {
		return "unknown error"
	}
	msg := e.Err.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

func (e *CLIError) Unwrap() error { return e.Err }

// NewConfigError reports a settings file that could not be loaded.
func NewConfigError(err error, configPath string) *CLIError {
	ce := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath).
		WithRecoverable(false)

	hint := "check your configuration file syntax"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(ce, hint)
}

// NewInvalidArgumentError reports a bad flag or argument.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	ce := errors.New(errors.CodeInvalidInput, "invalid argument: "+reason, nil).
		WithContext("argument", arg).
		WithRecoverable(false)
	return NewCLIError(ce, "run 'visionsync help' for usage information")
}

// WrapServeError reports a listener that could not be started.
func WrapServeError(err error, addr string) *CLIError {
	ce := errors.New(errors.CodeInternal, "server failed", err).
		WithContext("address", addr)
	return NewCLIError(ce, fmt.Sprintf("check that %s is free or pick another with --addr", addr))
}

type errorBody struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Hint    string           `json:"hint,omitempty"`
}

func printError(err error, asJSON bool) {
	writeError(os.Stderr, err, asJSON)
}

func writeError(w io.Writer, err error, asJSON bool) {
	body := errorBody{Code: "UNKNOWN", Message: err.Error()}
	var ce *CLIError
	if stderrors.As(err, &ce) && ce.Err != nil {
		body = errorBody{Code: ce.Err.Code, Message: ce.Err.Error(), Hint: ce.Hint}
	} else if e := errors.AsError(err); e != nil {
		body = errorBody{Code: e.Code, Message: e.Error()}
	}

	if asJSON {
		_ = json.NewEncoder(w).Encode(map[string]errorBody{"error": body})
		return
	}
	fmt.Fprintf(w, "Error [%s]: %s\n", body.Code, body.Message)
	if body.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", body.Hint)
	}
}
