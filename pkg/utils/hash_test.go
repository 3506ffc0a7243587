package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksumHex(t *testing.T) {
	// sha256("")
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", ChecksumHex(nil))
	assert.NotEqual(t, ChecksumHex([]byte(`{"nodes":[]}`)), ChecksumHex([]byte(`{"nodes":[1]}`)))
}
