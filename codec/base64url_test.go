package codec

import (
	"testing"

	"github.com/dblokhin/relaysync/buffer"
	"github.com/stretchr/testify/require"
)

func TestPackedStringRoundTrip(t *testing.T) {
	cases := []string{"", "a", "abc", "Hello-World_123", "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"}
	for _, s := range cases {
		buf := buffer.New()
		require.NoError(t, EncodePackedString(buf, s))

		got, err := DecodePackedString(buffer.NewFromBytes(buf.Bytes()))
		require.NoError(t, err)
		require.Equal(t, s, got)
	}
}

func TestPackedStringIsSmallerThanRaw(t *testing.T) {
	s := "Hello-World_123-Hello-World_123"
	buf := buffer.New()
	require.NoError(t, EncodePackedString(buf, s))
	require.Less(t, buf.Size(), len(s))
}

func TestPackedStringRejectsNonAlphabet(t *testing.T) {
	buf := buffer.New()
	err := EncodePackedString(buf, "has space")
	require.ErrorIs(t, err, ErrInvalidData)
}
