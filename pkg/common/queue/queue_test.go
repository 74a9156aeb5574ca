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

package queue

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type testItem struct {
	value int
}

func TestEnqueueDequeue(t *testing.T) {
	q := NewQueue("test-queue", reflect.TypeOf(testItem{}), 10)

	assert.Equal(t, "test-queue", q.GetName())
	assert.Equal(t, reflect.TypeOf(testItem{}), q.GetItemType())

	for i := 0; i < 5; i++ {
		assert.NoError(t, q.Enqueue(&testItem{value: i}))
	}
	assert.Equal(t, 5, q.Length())

	for i := 0; i < 5; i++ {
		item, err := q.Dequeue(time.Millisecond)
		assert.NoError(t, err)
		assert.Equal(t, i, item.(*testItem).value)
	}
	assert.Equal(t, 0, q.Length())
}

func TestEnqueueValuesAndPointers(t *testing.T) {
	q := NewQueue("test-queue", reflect.TypeOf(testItem{}), 10)

	// Pointers are indirected for the type check, so both forms pass.
	assert.NoError(t, q.Enqueue(testItem{value: 1}))
	assert.NoError(t, q.Enqueue(&testItem{value: 2}))
}

func TestEnqueueWrongTypeRejected(t *testing.T) {
	q := NewQueue("test-queue", reflect.TypeOf(testItem{}), 10)

	err := q.Enqueue("not an item")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid item type")
	assert.Equal(t, 0, q.Length())
}

func TestEnqueueFullQueueRejected(t *testing.T) {
	q := NewQueue("test-queue", reflect.TypeOf(testItem{}), 2)

	assert.NoError(t, q.Enqueue(&testItem{value: 1}))
	assert.NoError(t, q.Enqueue(&testItem{value: 2}))

	err := q.Enqueue(&testItem{value: 3})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "out of max queue size")
	assert.Equal(t, 2, q.Length())
}

func TestDequeueTimeout(t *testing.T) {
	q := NewQueue("test-queue", reflect.TypeOf(testItem{}), 2)

	item, err := q.Dequeue(10 * time.Millisecond)
	assert.Nil(t, item)
	assert.IsType(t, DequeueTimeOutError{}, err)
}

func TestDequeueUnblocksOnEnqueue(t *testing.T) {
	q := NewQueue("test-queue", reflect.TypeOf(testItem{}), 2)

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(&testItem{value: 7})
	}()

	item, err := q.Dequeue(time.Second)
	assert.NoError(t, err)
	assert.Equal(t, 7, item.(*testItem).value)
}
