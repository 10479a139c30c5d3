package uid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	a, b := New(), New()
	assert.True(t, IsValid(a))
	assert.NotEqual(t, a, b)
}

func TestNewOrdered(t *testing.T) {
	assert.True(t, IsValid(NewOrdered()))
	assert.False(t, IsValid("not-a-uuid"))
}
