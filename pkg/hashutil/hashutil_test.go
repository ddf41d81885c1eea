package hashutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHex_KnownVectors(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", EmptyHash)
	assert.Equal(t, 64, len(EmptyHash))
	assert.Equal(t, EmptyHash, Hex([]byte{}))
	assert.Equal(t, Hex([]byte("abc")), HexString("abc"))
}

func TestHex_DifferentInputsDifferentHashes(t *testing.T) {
	assert.NotEqual(t, HexString("a"), HexString("b"))
}
