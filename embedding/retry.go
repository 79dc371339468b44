// Copyright 2025 Poiesic Systems
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

package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/poiesic/ragcore/ai"
	"github.com/poiesic/ragcore/core"
)

// resultError converts a non-success provider result into the error that
// drives backoff.Retry. Rate limits carry the provider's RetryAfter hint;
// non-retryable kinds are marked permanent.
func resultError(r ai.Result) error {
	err := ai.Err(r)
	if err == nil {
		return nil
	}

	if rl, ok := r.(ai.RateLimited); ok && rl.RetryAfter > 0 {
		return fmt.Errorf("%w (%w)", err, &backoff.RetryAfterError{Duration: rl.RetryAfter})
	}
	if !core.IsRetryable(err) {
		return backoff.Permanent(err)
	}
	return err
}

// finalError strips retry plumbing from the error backoff.Retry gave up
// with and makes sure the caller always sees a classified error.
func finalError(ctx context.Context, err error) error {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}

	var classified *core.Error
	if errors.As(err, &classified) {
		return err
	}
	if ctx.Err() != nil {
		return core.NewError(core.KindTimeout, "embedding interrupted", err)
	}
	return core.NewError(core.KindUnknown, err.Error(), err)
}

// newBackOff builds the exponential schedule used between attempts. The
// randomization factor spreads retries from concurrent sessions apart.
func newBackOff(initial, ceiling time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = ceiling
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	return b
}
