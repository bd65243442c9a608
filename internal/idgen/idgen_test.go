package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithPrefix(t *testing.T) {
	a := WithPrefix("rcp_")
	b := WithPrefix("rcp_")
	assert.NotEqual(t, a, b)
	assert.True(t, HasPrefix(a, "rcp_"))
	assert.False(t, HasPrefix(a, "cmt_"))
	assert.False(t, HasPrefix("rcp_123", "rcp_"))
}

func TestOrdered(t *testing.T) {
	first := Ordered("cmt_")
	second := Ordered("cmt_")
	assert.True(t, HasPrefix(first, "cmt_"))
	assert.Less(t, first, second)
}

func TestNew(t *testing.T) {
	assert.Len(t, New(), 36)
}
