package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCarriesCodeAndCategory(t *testing.T) {
	err := New(CodeCapabilityNotFound, "tool 'x' not found", CategoryNotFound, SeverityError)
	assert.Equal(t, CodeCapabilityNotFound, err.Code())
	assert.Equal(t, CategoryNotFound, err.Category())
	assert.Equal(t, SeverityError, err.Severity())
	assert.Equal(t, "tool 'x' not found", err.Error())
	require.NotNil(t, err.Context())
	assert.False(t, err.Context().Timestamp.IsZero())
}

func TestWithDetailAppends(t *testing.T) {
	err := New(CodeCallTimeout, "call timed out", CategoryTimeout, SeverityError)
	detailed := err.WithDetail("waited 30s")
	assert.Equal(t, "call timed out: waited 30s", detailed.Error())
	// Original is unchanged.
	assert.Equal(t, "call timed out", err.Error())

	twice := detailed.WithDetail("method tools/call")
	assert.Equal(t, "call timed out: waited 30s; method tools/call", twice.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("broken pipe")
	err := TransportClosed(cause)
	assert.Equal(t, CodeTransportClosed, err.Code())
	assert.ErrorIs(t, err, cause)
}

func TestCapabilityNotFoundData(t *testing.T) {
	err := CapabilityNotFound("tool", "forecast_trend")
	assert.Equal(t, CodeCapabilityNotFound, err.Code())
	data, ok := err.Data().(*CapabilityErrorData)
	require.True(t, ok)
	assert.Equal(t, "tool", data.Kind)
	assert.Equal(t, "forecast_trend", data.Name)
}

func TestVersionMismatchMessage(t *testing.T) {
	err := VersionMismatch("1.0", "2.0")
	assert.Equal(t, CodeVersionMismatch, err.Code())
	assert.Contains(t, err.Error(), `client "1.0"`)
	assert.Contains(t, err.Error(), `server "2.0"`)
}

func TestIsCodeAndIsCategory(t *testing.T) {
	err := SessionClosed()
	assert.True(t, IsCode(err, CodeSessionClosed))
	assert.False(t, IsCode(err, CodeCallTimeout))
	assert.True(t, IsCategory(err, CategorySession))

	assert.False(t, IsCode(stderrors.New("plain"), CodeSessionClosed))
	assert.False(t, IsCode(nil, CodeSessionClosed))
}

func TestCodeRegistryLookup(t *testing.T) {
	info, ok := GetCodeInfo(CodeDuplicateCapability)
	require.True(t, ok)
	assert.Equal(t, "DuplicateCapability", info.Name)

	assert.Equal(t, "UnknownError", CodeName(12345))
}
