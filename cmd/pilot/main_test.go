package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlePanicWritesLog(t *testing.T) {
	var written string
	var code int
	osWriteFile = func(name string, data []byte, _ os.FileMode) error {
		assert.Equal(t, panicLogFile, name)
		written = string(data)
		return nil
	}
	osExit = func(c int) { code = c }
	t.Cleanup(func() {
		osWriteFile = os.WriteFile
		osExit = os.Exit
	})

	func() {
		defer handlePanic()
		panic("boom")
	}()

	require.Contains(t, written, "panic: boom")
	assert.Contains(t, written, "goroutine")
	assert.Equal(t, 2, code)
}

func TestHandlePanicWithoutPanicDoesNothing(t *testing.T) {
	called := false
	osExit = func(int) { called = true }
	t.Cleanup(func() { osExit = os.Exit })

	func() {
		defer handlePanic()
	}()
	assert.False(t, called)
}
