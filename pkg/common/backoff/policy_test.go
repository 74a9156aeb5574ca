// Copyright (c) 2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConstantPolicyExhaustsBudget(t *testing.T) {
	r := NewRetrier(NewRetryPolicy(3, 10*time.Millisecond))

	assert.Equal(t, 10*time.Millisecond, r.NextBackOff())
	assert.Equal(t, 10*time.Millisecond, r.NextBackOff())
	assert.Equal(t, Done, r.NextBackOff())
	assert.Equal(t, Done, r.NextBackOff())
}

func TestSingleAttemptPolicy(t *testing.T) {
	r := NewRetrier(NewRetryPolicy(1, time.Second))
	assert.Equal(t, Done, r.NextBackOff())
}

func TestExponentialPolicyDoublesAndCaps(t *testing.T) {
	r := NewRetrier(NewExponentialRetryPolicy(
		6, 10*time.Millisecond, 50*time.Millisecond))

	assert.Equal(t, 10*time.Millisecond, r.NextBackOff())
	assert.Equal(t, 20*time.Millisecond, r.NextBackOff())
	assert.Equal(t, 40*time.Millisecond, r.NextBackOff())
	assert.Equal(t, 50*time.Millisecond, r.NextBackOff())
	assert.Equal(t, 50*time.Millisecond, r.NextBackOff())
	assert.Equal(t, Done, r.NextBackOff())
}

func TestCheckRetry(t *testing.T) {
	r := NewRetrier(NewRetryPolicy(2, time.Millisecond))
	assert.True(t, CheckRetry(r))
	assert.False(t, CheckRetry(r))
}
