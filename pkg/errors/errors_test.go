package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCodeThroughWrapping(t *testing.T) {
	base := New(CodeInvalid, "no inputs")
	wrapped := fmt.Errorf("generate: %w", base)

	assert.True(t, IsCode(wrapped, CodeInvalid))
	assert.False(t, IsCode(wrapped, CodeNotFound))
	assert.Equal(t, CodeInvalid, CodeOf(wrapped))
	assert.Equal(t, "no inputs", MessageOf(wrapped))
}

func TestMessageOfPlainError(t *testing.T) {
	err := fmt.Errorf("boom")
	assert.Equal(t, CodeUnknown, CodeOf(err))
	assert.Equal(t, "boom", MessageOf(err))
	assert.Equal(t, "", MessageOf(nil))
}

func TestWrapNilBehavesLikeNew(t *testing.T) {
	e := Wrap(nil, CodeInternal, "x")
	assert.Nil(t, e.Err)
	assert.Equal(t, "internal: x", e.Error())
	e.WithMeta("node_id", "dnd-node_1")
	assert.Equal(t, "dnd-node_1", e.Meta["node_id"])
}
