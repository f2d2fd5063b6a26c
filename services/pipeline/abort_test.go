// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAbortFlag_FirstReasonWins(t *testing.T) {
	var f AbortFlag
	assert.False(t, f.IsSet())
	assert.Nil(t, f.Reason())

	assert.True(t, f.Set(AbortReason{Type: AbortUser, Message: "first"}))
	assert.False(t, f.Set(AbortReason{Type: AbortFailure, Message: "second"}))

	require.True(t, f.IsSet())
	r := f.Reason()
	require.NotNil(t, r)
	assert.Equal(t, AbortUser, r.Type)
	assert.Equal(t, "first", r.Message)
	assert.False(t, r.Timestamp.IsZero())

	r.Message = "mutated"
	assert.Equal(t, "first", f.Reason().Message, "Reason returns a copy")

	f.Reset()
	assert.False(t, f.IsSet())
	assert.True(t, f.Set(AbortReason{Type: AbortContext}))
}

func TestAbortFlag_ConcurrentSet(t *testing.T) {
	var f AbortFlag
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.Set(AbortReason{Type: AbortUser}) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestNextStamp_StrictlyIncreasing(t *testing.T) {
	a := nextStamp()
	b := nextStamp()
	assert.Greater(t, b, a)
}
