package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessageWithoutCause(t *testing.T) {
	e := New(InvalidArgument, "bad input")
	assert.Equal(t, "bad input", e.Error())
	assert.Nil(t, e.Unwrap())
}

func TestErrorMessageWithCause(t *testing.T) {
	cause := errors.New("underlying")
	e := Wrap(StorageError, cause, "write failed")
	assert.Equal(t, "write failed: underlying", e.Error())
	assert.Equal(t, cause, e.Unwrap())
}

func TestNewfFormats(t *testing.T) {
	e := Newf(FunctionNotFound, "no such function %q", "foo")
	assert.Equal(t, `no such function "foo"`, e.Message)
}

func TestKindOfUnwrapsWrappedError(t *testing.T) {
	inner := New(ProvenanceInvalid, "scope mismatch")
	outer := fmtWrap(inner)
	assert.Equal(t, ProvenanceInvalid, KindOf(outer))
	assert.True(t, Is(outer, ProvenanceInvalid))
}

func TestKindOfDefaultsForOpaqueErrors(t *testing.T) {
	assert.Equal(t, ExecutionFailed, KindOf(errors.New("opaque")))
}

func fmtWrap(err error) error {
	return errors.Join(err)
}

func TestErrorsAsWorksThroughChain(t *testing.T) {
	inner := New(Transient, "retry me")
	wrapped := Wrap(ExecutionFailed, inner, "call failed")

	var target *Error
	require.True(t, errors.As(wrapped, &target))
	assert.Equal(t, ExecutionFailed, target.Kind)

	require.True(t, errors.Is(wrapped, inner))
}
