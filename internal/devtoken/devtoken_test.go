package devtoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintVerify(t *testing.T) {
	token, err := Mint("s3cret", "user-1", time.Minute)
	require.NoError(t, err)

	userID, err := Verify("s3cret", token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	userID, err = Verify("s3cret", "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestVerifyRejects(t *testing.T) {
	token, err := Mint("s3cret", "user-1", time.Minute)
	require.NoError(t, err)

	_, err = Verify("other", token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = Verify("s3cret", "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMintDefaultTTL(t *testing.T) {
	token, err := Mint("s3cret", "user-1", 0)
	require.NoError(t, err)

	_, err = Verify("s3cret", token)
	assert.NoError(t, err)
}

func TestMintRequiresUser(t *testing.T) {
	_, err := Mint("s3cret", "", time.Minute)
	assert.ErrorIs(t, err, ErrMissingUser)
}
