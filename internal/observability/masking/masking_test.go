package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "l****@example.com", MaskEmail(" lan@example.com "))
	assert.Equal(t, "", MaskEmail("  "))
	assert.Equal(t, "****", MaskEmail("@x"))
	assert.Equal(t, "****mail", MaskEmail("not-an-email"))
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "****cdef", MaskSecret("0123456789abcdef"))
	assert.Equal(t, "****", MaskSecret("abcd"))
	assert.Equal(t, "", MaskSecret(""))
}
