package lead

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhoneAcceptsCommonRussianForms(t *testing.T) {
	cases := []string{
		"+7 999 123-45-67",
		"89991234567",
		"79991234567",
		"8 (999) 123 45 67",
	}
	for _, raw := range cases {
		got, err := NormalizePhone(raw)
		require.NoError(t, err, "input %q", raw)
		assert.Equal(t, "+7 999 123-45-67", got, "input %q", raw)
	}
}

func TestNormalizePhoneIdempotent(t *testing.T) {
	first, err := NormalizePhone("89991234567")
	require.NoError(t, err)

	second, err := NormalizePhone(first)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNormalizePhoneRejectsInvalid(t *testing.T) {
	cases := []string{
		"",
		"hello",
		"123",
		"+7 999 123",
	}
	for _, raw := range cases {
		_, err := NormalizePhone(raw)
		require.Error(t, err, "input %q", raw)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr, "input %q", raw)
		assert.Equal(t, "phone", verr.Field)
	}
}
