// Copyright Hostsnap, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package snapshot

import (
	"fmt"
	"strings"
)

// QueryError records the failure of a single category's query. The
// category's prior state is untouched when this is returned.
type QueryError struct {
	Category string
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("category %q: query failed: %v", e.Category, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// AggregateError collects the per-category failures of one Root refresh.
// Categories not named here refreshed successfully, so a partially
// failed refresh still leaves the aggregate readable: stale-but-valid
// data for the failed categories, fresh data for the rest.
type AggregateError struct {
	Errors []*QueryError
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d categories failed to refresh:", len(e.Errors))
	for _, qe := range e.Errors {
		sb.WriteString("\n\t")
		sb.WriteString(qe.Error())
	}
	return sb.String()
}

// Unwrap exposes the underlying query errors to errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, qe := range e.Errors {
		errs[i] = qe
	}
	return errs
}

// FailedCategories returns the names of the categories that did not
// update, in the order their failures were collected.
func (e *AggregateError) FailedCategories() []string {
	names := make([]string, len(e.Errors))
	for i, qe := range e.Errors {
		names[i] = qe.Category
	}
	return names
}
