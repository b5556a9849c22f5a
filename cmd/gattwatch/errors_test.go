package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/gattwatch/internal/gatt"
)

func TestFormatUserError(t *testing.T) {
	// GOAL: Verify low-level failures render as actionable terminal messages

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "timeout",
			err:  fmt.Errorf("dial: %w", context.DeadlineExceeded),
			want: "operation timed out (is the device in range and advertising?)",
		},
		{
			name: "connection lost",
			err:  ErrConnectionLost,
			want: "connection lost (the device disconnected or went out of range)",
		},
		{
			name: "transport error",
			err:  &gatt.TransportError{Op: "read", Handle: 0x0012, Status: 0x0e},
			want: "GATT read failed on handle 0x0012 (status 0x0e)",
		},
		{
			name: "plain error passes through",
			err:  errors.New("something else"),
			want: "something else",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err))
		})
	}

	assert.Empty(t, FormatUserError(nil))
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}
