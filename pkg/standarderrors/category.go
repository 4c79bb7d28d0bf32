// Copyright 2025 UMH Systems GmbH
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

package standarderrors

import "errors"

// ErrorCategory classifies a launcher failure for the factory circuit breaker.
type ErrorCategory int

const (
	// CategoryTransient is a failure that is charged to the factory retry budget.
	CategoryTransient ErrorCategory = iota

	// CategoryPermanent is a failure that disables the factory for the rest of the run,
	// e.g. a missing executable or an unsupported browser type.
	CategoryPermanent
)

// CategorizedError attaches an ErrorCategory to an error.
type CategorizedError struct {
	Err      error
	Category ErrorCategory
}

func (ce *CategorizedError) Error() string {
	return ce.Err.Error()
}

func (ce *CategorizedError) Unwrap() error {
	return ce.Err
}

// NewTransientError marks err as transient.
func NewTransientError(err error) error {
	return &CategorizedError{Err: err, Category: CategoryTransient}
}

// NewPermanentError marks err as permanent.
func NewPermanentError(err error) error {
	return &CategorizedError{Err: err, Category: CategoryPermanent}
}

// IsPermanentError reports whether err, or an error it wraps, is permanent.
func IsPermanentError(err error) bool {
	var ce *CategorizedError

	return errors.As(err, &ce) && ce.Category == CategoryPermanent
}

// IsTransientError reports whether err is transient. Uncategorized errors count as transient.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category == CategoryTransient
	}

	return true
}
