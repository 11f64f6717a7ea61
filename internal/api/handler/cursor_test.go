package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/dirsync/internal/executor"
)

func TestJobCursor(t *testing.T) {
	cursor := &executor.Cursor{
		CreatedAt: time.Date(2024, 3, 1, 10, 0, 0, 123, time.UTC),
		JobID:     "0b3c8c5e-1c51-4f25-9e3e-1f7b0f8a2d10",
	}

	decoded, err := DecodeJobCursor(EncodeJobCursor(cursor))
	require.NoError(t, err)
	assert.Equal(t, cursor, decoded)

	empty, err := DecodeJobCursor("")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestDecodeJobCursorErrors(t *testing.T) {
	tests := []struct {
		name   string
		cursor string
	}{
		{name: "not base64", cursor: "%%%"},
		{name: "missing separator", cursor: base64.URLEncoding.EncodeToString([]byte("12345"))},
		{name: "missing job id", cursor: base64.URLEncoding.EncodeToString([]byte("12345|"))},
		{name: "bad timestamp", cursor: base64.URLEncoding.EncodeToString([]byte("yesterday|abc"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJobCursor(tt.cursor)
			assert.Error(t, err)
		})
	}
}
