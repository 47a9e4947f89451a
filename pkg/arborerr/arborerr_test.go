package arborerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := New(NotFound, "agent %s not found", "abc")
	assert.Equal(t, "NotFound: agent abc not found", err.Error())
}

func TestWrap_Unwraps(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(TransportFailure, cause, "dial failed")
	assert.ErrorIs(t, err, cause)
}

func TestKindOf(t *testing.T) {
	err := New(CycleDetected, "saw agent twice")
	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, CycleDetected, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestIs(t *testing.T) {
	err := New(RunNotPending, "run already started")
	assert.True(t, Is(err, RunNotPending))
	assert.False(t, Is(err, NotFound))
}
