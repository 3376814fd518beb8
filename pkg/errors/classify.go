// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	stderrors "errors"
	"io/fs"
	"net/http"

	"github.com/google/uuid"
)

// Public messages for errors whose own text may carry paths or detail.
const (
	internalMessage   = "internal server error"
	notExistMessage   = "resource not found"
	permissionMessage = "permission denied"
)

// Response is the body written by the HTTP error boundary.
type Response struct {
	ErrorID string    `json:"error_id"`
	Status  int       `json:"status"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Classify maps err to an HTTP status and the message safe to show callers.
// Only 400, 403, 404 and 500 are produced. 5xx detail is never exposed, and
// filesystem errors get a fixed message so paths stay in the server log.
func Classify(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		switch e.Code {
		case CodeInvalidInput, CodeInvalidLevel:
			return http.StatusBadRequest, e.Message
		case CodeForbidden:
			return http.StatusForbidden, e.Message
		case CodeNotFound:
			return http.StatusNotFound, e.Message
		}
	}
	switch {
	case stderrors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound, notExistMessage
	case stderrors.Is(err, fs.ErrPermission):
		return http.StatusForbidden, permissionMessage
	}
	return http.StatusInternalServerError, internalMessage
}

// NewResponse classifies err and stamps a fresh error id.
// The id is what operators correlate with the server log.
func NewResponse(err error) Response {
	status, msg := Classify(err)
	code := CodeInternal
	if e := AsError(err); e != nil && status != http.StatusInternalServerError {
		code = e.Code
	}
	switch status {
	case http.StatusNotFound:
		code = CodeNotFound
	case http.StatusForbidden:
		code = CodeForbidden
	}
	return Response{
		ErrorID: uuid.NewString(),
		Status:  status,
		Code:    code,
		Message: msg,
	}
}
