package identity_test

import (
	"testing"

	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	t.Run("renders national input as E.164", func(t *testing.T) {
		got, err := identity.NormalizePhone("(415) 555-2671")
		require.NoError(t, err)
		assert.Equal(t, "+14155552671", got)
	})

	t.Run("keeps international input intact", func(t *testing.T) {
		got, err := identity.NormalizePhone("+44 20 7946 0958")
		require.NoError(t, err)
		assert.Equal(t, "+442079460958", got)
	})

	t.Run("empty input stays empty", func(t *testing.T) {
		got, err := identity.NormalizePhone("  ")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("rejects junk", func(t *testing.T) {
		_, err := identity.NormalizePhone("12")
		require.Error(t, err)
	})
}
