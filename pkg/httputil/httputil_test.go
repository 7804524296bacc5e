package httputil_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/VoiceKit/pkg/httputil"
)

func TestDefaultConstants(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 30*time.Second, httputil.DefaultSignalingTimeout)
	assert.Equal(t, 10*time.Second, httputil.DefaultProbeTimeout)
}

func TestNewHTTPClient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		timeout time.Duration
	}{
		{"signaling timeout", httputil.DefaultSignalingTimeout},
		{"probe timeout", httputil.DefaultProbeTimeout},
		{"custom timeout", 5 * time.Second},
		{"zero timeout", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := httputil.NewHTTPClient(tt.timeout)
			require.NotNil(t, client, "returned client must not be nil")
			assert.Equal(t, tt.timeout, client.Timeout, "client timeout must match requested value")
		})
	}
}

func TestOrDefault(t *testing.T) {
	t.Parallel()

	def := httputil.OrDefault(nil)
	assert.Same(t, httputil.DefaultClient(), def)
	assert.NotSame(t, http.DefaultClient, def)
	assert.Equal(t, httputil.DefaultSignalingTimeout, def.Timeout)

	custom := &http.Client{}
	assert.Same(t, custom, httputil.OrDefault(custom))
}
