// ABOUTME: Tests for operator credential checks
// ABOUTME: Covers plain tokens, bcrypt hashes, precedence and the unconfigured case

package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperatorChecker_PlainToken(t *testing.T) {
	c := NewOperatorChecker("s3cret", "")
	assert.True(t, c.Enabled())
	assert.NoError(t, c.Check("s3cret"))
	assert.True(t, errors.Is(c.Check("wrong"), ErrOperatorDenied))
	assert.True(t, errors.Is(c.Check(""), ErrOperatorDenied))
}

func TestOperatorChecker_Hash(t *testing.T) {
	hash, err := HashToken("s3cret")
	require.NoError(t, err)

	c := NewOperatorChecker("", hash)
	assert.NoError(t, c.Check("s3cret"))
	assert.ErrorIs(t, c.Check("s3cret "), ErrOperatorDenied)
}

func TestOperatorChecker_HashTakesPrecedence(t *testing.T) {
	hash, err := HashToken("from-hash")
	require.NoError(t, err)

	c := NewOperatorChecker("from-plain", hash)
	assert.NoError(t, c.Check("from-hash"))
	assert.ErrorIs(t, c.Check("from-plain"), ErrOperatorDenied)
}

func TestOperatorChecker_Unconfigured(t *testing.T) {
	c := NewOperatorChecker("", "")
	assert.False(t, c.Enabled())
	assert.ErrorIs(t, c.Check(""), ErrOperatorDenied)
	assert.ErrorIs(t, c.Check("anything"), ErrOperatorDenied)

	var nilChecker *OperatorChecker
	assert.ErrorIs(t, nilChecker.Check("anything"), ErrOperatorDenied)
}

func TestHashToken_Empty(t *testing.T) {
	_, err := HashToken("")
	assert.Error(t, err)
}
