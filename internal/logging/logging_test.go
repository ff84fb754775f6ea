package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{" WARN ", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	prod, err := New(Config{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, prod.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, prod.Core().Enabled(zapcore.WarnLevel))

	dev, err := New(Config{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.True(t, dev.Core().Enabled(zapcore.DebugLevel))

	_, err = New(Config{Level: "nope"})
	assert.Error(t, err)
}
