// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigdispatch

import (
	"context"

	"github.com/grailbio/base/errors"
)

// ContextError returns the error to report when work stops because
// ctx is done: an errors.Timeout error if its deadline passed, an
// errors.Canceled error otherwise. It returns nil if ctx is not done.
func ContextError(ctx context.Context, what string) error {
	switch ctx.Err() {
	case nil:
		return nil
	case context.DeadlineExceeded:
		return errors.E(errors.Timeout, what, ctx.Err())
	default:
		return errors.E(errors.Canceled, what, ctx.Err())
	}
}
