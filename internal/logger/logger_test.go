package logger

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{in: "", want: zerolog.InfoLevel},
		{in: "debug", want: zerolog.DebugLevel},
		{in: "WARN", want: zerolog.WarnLevel},
		{in: " error ", want: zerolog.ErrorLevel},
		{in: "loud", want: zerolog.InfoLevel, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigureTestLogging(t *testing.T) {
	before := zerolog.GlobalLevel()

	t.Run("inner", func(t *testing.T) {
		ConfigureTestLogging(t)
		assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
		log.Ctx(context.Background()).Debug().Msg("visible in test output")
	})

	assert.Equal(t, before, zerolog.GlobalLevel())
}
