// Copyright (c) 2026 Metosin Oy
// aws-tools - operational tunneling for private AWS databases
// This source code is licensed under the MIT license found in the LICENSE file.

package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"
)

// Sentinel errors for the outcomes of external AWS calls. Callers match
// with errors.Is instead of parsing exit codes or message text.
var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("target not found")
	// ErrPermissionDenied is returned when credentials lack access.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrThrottled is returned when AWS rejects the call for rate limiting.
	ErrThrottled = errors.New("request throttled")
	// ErrTimeout is returned when the call exceeded its deadline.
	ErrTimeout = errors.New("request timed out")
)

// ClassifyAWSError maps low-level SDK errors to package-level sentinel
// errors while preserving the original message. This is a conservative mapping:
// anything unrecognized passes through untouched.
func ClassifyAWSError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, err.Error())
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case code == "AccessDenied" || code == "AccessDeniedException" || code == "UnauthorizedOperation":
			return fmt.Errorf("%w: %s", ErrPermissionDenied, apiErr.ErrorMessage())
		case code == "Throttling" || code == "ThrottlingException" || code == "RequestLimitExceeded":
			return fmt.Errorf("%w: %s", ErrThrottled, apiErr.ErrorMessage())
		case code == "RequestTimeout":
			return fmt.Errorf("%w: %s", ErrTimeout, apiErr.ErrorMessage())
		case strings.HasSuffix(code, "NotFound") || strings.HasSuffix(code, "NotFoundFault") || strings.HasSuffix(code, ".NotFound"):
			return fmt.Errorf("%w: %s", ErrNotFound, apiErr.ErrorMessage())
		}
	}
	return err
}
