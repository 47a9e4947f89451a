// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package arborerr is the shared error taxonomy between the orchestrator's
// components. A Kind is stable across releases and safe to expose to
// callers; the Message is human-readable and never carries secrets.
package arborerr

import (
	"errors"
	"fmt"
)

// Kind names one of the failure modes enumerated in the orchestrator's
// error handling design.
type Kind string

const (
	MissingKey            Kind = "MissingKey"
	TransportFailure      Kind = "TransportFailure"
	RateLimited           Kind = "RateLimited"
	BlockedByPolicy       Kind = "BlockedByPolicy"
	EmptyCompletion       Kind = "EmptyCompletion"
	Timeout               Kind = "Timeout"
	WouldCreateCycle      Kind = "WouldCreateCycle"
	CrossSessionViolation Kind = "CrossSessionViolation"
	NotFound              Kind = "NotFound"
	CycleDetected         Kind = "CycleDetected"
	MaxDepthExceeded      Kind = "MaxDepthExceeded"
	SnapshotUnavailable   Kind = "SnapshotUnavailable"
	CircuitOpen           Kind = "CircuitOpen"
	ChannelClosed         Kind = "ChannelClosed"
	RunNotPending         Kind = "RunAlreadyStartedOrFinished"
)

// Error is the typed error carried across component boundaries.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given Kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given Kind around an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, if any *Error is present in its chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err's chain contains an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
