// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package inputbuffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFIFOPushRejectsOverCapacity(t *testing.T) {
	f := NewFIFO(10)
	require.True(t, f.Push([]byte("12345")))
	require.True(t, f.Push([]byte("12345")))
	require.False(t, f.Push([]byte("1")))
	require.EqualValues(t, 10, f.Len())
}

func TestFIFOFetchPreservesOrderAndBudget(t *testing.T) {
	f := NewFIFO(100)
	require.True(t, f.Push([]byte("aaaa")))
	require.True(t, f.Push([]byte("bbbb")))
	require.True(t, f.Push([]byte("cccc")))

	got := f.Fetch(9)
	require.Equal(t, [][]byte{[]byte("aaaa"), []byte("bbbb")}, got)
	require.EqualValues(t, 4, f.Len())

	got = f.Fetch(100)
	require.Equal(t, [][]byte{[]byte("cccc")}, got)
	require.Zero(t, f.Len())
}

func TestFIFOFetchAlwaysTakesOneOversizedChunk(t *testing.T) {
	f := NewFIFO(100)
	require.True(t, f.Push([]byte("0123456789")))

	got := f.Fetch(1)
	require.Equal(t, [][]byte{[]byte("0123456789")}, got)
	require.Zero(t, f.Len())
}
