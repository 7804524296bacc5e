package errors_test

import (
	"errors"
	"fmt"
	"io"
	"testing"

	pkgerrors "github.com/AltairaLabs/VoiceKit/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := pkgerrors.New("realtime", "FetchToken", cause)

	assert.Equal(t, "realtime", err.Component)
	assert.Equal(t, "FetchToken", err.Operation)
	assert.Equal(t, 0, err.StatusCode)
	assert.Equal(t, pkgerrors.CategoryUnknown, err.Category)
	assert.Nil(t, err.Details)
	assert.Equal(t, cause, err.Cause)
}

func TestError_BasicMessage(t *testing.T) {
	err := pkgerrors.New("streaming", "Connect", fmt.Errorf("dial failed"))

	assert.Equal(t, "[streaming] Connect: dial failed", err.Error())
}

func TestError_NoCause(t *testing.T) {
	err := pkgerrors.New("conversation", "Start", nil)

	assert.Equal(t, "[conversation] Start", err.Error())
}

func TestError_WithStatusCode(t *testing.T) {
	err := pkgerrors.New("realtime", "ExchangeSDP", fmt.Errorf("unauthorized")).WithStatusCode(401)

	assert.Equal(t, "[realtime] ExchangeSDP (status 401): unauthorized", err.Error())
}

func TestChainedBuilders(t *testing.T) {
	err := pkgerrors.New("realtime", "FetchToken", fmt.Errorf("bad request")).
		WithStatusCode(400).
		WithCategory(pkgerrors.CategoryNegotiation).
		WithDetails(map[string]any{"endpoint": "/token"})

	assert.Equal(t, 400, err.StatusCode)
	assert.Equal(t, pkgerrors.CategoryNegotiation, err.Category)
	assert.Equal(t, map[string]any{"endpoint": "/token"}, err.Details)
	assert.Equal(t, "[realtime] FetchToken (status 400): bad request", err.Error())
}

func TestBuildersReturnSamePointer(t *testing.T) {
	err := pkgerrors.New("audio", "Open", nil)

	assert.Same(t, err, err.WithStatusCode(1))
	assert.Same(t, err, err.WithCategory(pkgerrors.CategoryPermission))
	assert.Same(t, err, err.WithDetails(nil))
}

func TestErrorsIs(t *testing.T) {
	wrapped := fmt.Errorf("mid-layer: %w", io.ErrUnexpectedEOF)
	err := pkgerrors.New("streaming", "Receive", wrapped)

	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestErrorsAs(t *testing.T) {
	err := pkgerrors.New("realtime", "Negotiate", fmt.Errorf("timeout"))
	outer := fmt.Errorf("outer: %w", err)

	var ctxErr *pkgerrors.ContextualError
	require.True(t, errors.As(outer, &ctxErr))
	assert.Equal(t, "realtime", ctxErr.Component)
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want pkgerrors.Category
	}{
		{name: "nil", err: nil, want: pkgerrors.CategoryUnknown},
		{name: "plain error", err: fmt.Errorf("boom"), want: pkgerrors.CategoryUnknown},
		{
			name: "direct category",
			err:  pkgerrors.New("realtime", "Negotiate", nil).WithCategory(pkgerrors.CategoryNegotiation),
			want: pkgerrors.CategoryNegotiation,
		},
		{
			name: "wrapped category",
			err: fmt.Errorf("outer: %w",
				pkgerrors.New("streaming", "Send", nil).WithCategory(pkgerrors.CategoryTransport)),
			want: pkgerrors.CategoryTransport,
		},
		{
			name: "inner category found through uncategorized outer",
			err: pkgerrors.New("conversation", "Start",
				pkgerrors.New("streaming", "Connect", nil).WithCategory(pkgerrors.CategoryNegotiation)),
			want: pkgerrors.CategoryNegotiation,
		},
		{
			name: "device sentinel",
			err:  fmt.Errorf("open capture: %w", pkgerrors.ErrMicrophoneDenied),
			want: pkgerrors.CategoryPermission,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pkgerrors.CategoryOf(tt.err))
		})
	}
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, pkgerrors.IsRecoverable(pkgerrors.CategoryNoResponse))
	assert.True(t, pkgerrors.IsRecoverable(pkgerrors.CategoryNegotiation))
	assert.True(t, pkgerrors.IsRecoverable(pkgerrors.CategoryProtocol))
	assert.False(t, pkgerrors.IsRecoverable(pkgerrors.CategoryTransport))
	assert.False(t, pkgerrors.IsRecoverable(pkgerrors.CategoryUnknown))
}

func TestDescribe_NeverLeaksRawError(t *testing.T) {
	raw := `{"type":"error","error":{"code":"invalid_api_key"}}`
	err := pkgerrors.New("realtime", "ExchangeSDP", errors.New(raw)).
		WithCategory(pkgerrors.CategoryNegotiation)

	msg := pkgerrors.Describe(err)

	assert.Equal(t, pkgerrors.CategoryNegotiation, msg.Category)
	assert.NotContains(t, msg.Message, "invalid_api_key")
	assert.NotContains(t, msg.Hint, "invalid_api_key")
	assert.NotEmpty(t, msg.Hint)
}

func TestDescribe_DeviceErrors(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{pkgerrors.ErrMicrophoneDenied, "Microphone access was denied."},
		{pkgerrors.ErrMicrophoneNotFound, "No microphone was found."},
		{pkgerrors.ErrMicrophoneBusy, "The microphone is in use by another application."},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			msg := pkgerrors.Describe(fmt.Errorf("capture: %w", tt.err))
			assert.Equal(t, pkgerrors.CategoryPermission, msg.Category)
			assert.Equal(t, tt.want, msg.Message)
		})
	}
}

func TestDescribe_NoResponse(t *testing.T) {
	err := pkgerrors.New("streaming", "AwaitResponse", nil).WithCategory(pkgerrors.CategoryNoResponse)

	msg := pkgerrors.Describe(err)

	assert.Equal(t, "No response received.", msg.Message)
	assert.Equal(t, "No response received. "+pkgerrors.Remediation(pkgerrors.CategoryNoResponse), msg.String())
}

func TestDescribe_Nil(t *testing.T) {
	assert.Equal(t, pkgerrors.UserMessage{}, pkgerrors.Describe(nil))
}
