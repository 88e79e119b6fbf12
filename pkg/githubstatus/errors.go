/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package githubstatus

import (
	"errors"
	"fmt"

	"github.com/google/go-github/v75/github"
)

// ConfigurationError stops a run before any status is sent.
type ConfigurationError struct {
	// Key is the option at fault: owner, repo, token or commitSha.
	Key    string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("key %q %s", e.Key, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// DescriptorValidationError rejects a single update, which is then not sent.
type DescriptorValidationError struct {
	Index  int
	Field  string
	Reason string
	Err    error
}

func (e *DescriptorValidationError) Error() string {
	msg := fmt.Sprintf("update %d: %s %s", e.Index, e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DescriptorValidationError) Unwrap() error { return e.Err }

// RemoteCallError is a failed request for a single update.
type RemoteCallError struct {
	Index   int
	Context string
	State   string
	// StatusCode is the HTTP status GitHub answered with, 0 when the request
	// never got a response.
	StatusCode int
	// Message is GitHub's error message, if it sent one.
	Message string
	Err     error
}

func newRemoteCallError(index int, context, state string, err error) *RemoteCallError {
	rerr := &RemoteCallError{
		Index:   index,
		Context: context,
		State:   state,
		Err:     err,
	}
	var ger *github.ErrorResponse
	if errors.As(err, &ger) {
		rerr.Message = ger.Message
		if ger.Response != nil {
			rerr.StatusCode = ger.Response.StatusCode
		}
	}
	return rerr
}

func (e *RemoteCallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("updating status of %s to %s: %d %s", e.Context, e.State, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("updating status of %s to %s: %v", e.Context, e.State, e.Err)
}

func (e *RemoteCallError) Unwrap() error { return e.Err }
