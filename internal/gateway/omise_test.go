package gateway

import (
	"testing"

	"github.com/omise/omise-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOmise(t *testing.T) {
	g, err := NewOmise("pkey_test_5x", "skey_test_5x", "THB")
	require.NoError(t, err)
	require.NotNil(t, g.client)
	assert.Equal(t, "thb", g.currency)

	_, err = NewOmise("", "", "THB")
	assert.ErrorIs(t, err, omise.ErrInvalidKey)
	_, err = NewOmise("pk_live", "skey_test_5x", "THB")
	assert.ErrorIs(t, err, omise.ErrInvalidKey)
}
