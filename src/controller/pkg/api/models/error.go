// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package models

// ErrorResponse is the body of every non-2xx API reply. Error is a stable
// machine-readable kind such as "validation_error" or "store_error".
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	Code    int    `json:"code"`
}

// NewErrorResponse builds an error body for the given HTTP status
func NewErrorResponse(code int, kind, message string, details any) *ErrorResponse {
	return &ErrorResponse{
		Error:   kind,
		Message: message,
		Details: details,
		Code:    code,
	}
}
