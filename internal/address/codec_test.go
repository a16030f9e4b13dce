package address

import (
	"errors"
	"testing"

	"email-mirror-gateway/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPattern = "%s@mirror.example.com"

func TestRoundTrip(t *testing.T) {
	codec := NewCodec(testPattern, "")
	tokens := []string{"abcdef0123456789", "mm0123456789abcdef0123456789abcdef", "X1"}

	var allOptions []models.Options
	for i := 0; i < 16; i++ {
		allOptions = append(allOptions, models.Options{
			ShowSender:    i&1 != 0,
			IncludeQuotes: i&2 != 0,
			IncludeFooter: i&4 != 0,
			PreferText:    i&8 != 0,
		})
	}

	for _, token := range tokens {
		for _, opts := range allOptions {
			addr, err := codec.Encode(token, opts)
			require.NoError(t, err)

			gotToken, gotOpts, err := codec.Decode(addr)
			require.NoError(t, err, addr)
			assert.Equal(t, token, gotToken, addr)
			assert.Equal(t, opts, gotOpts, addr)
		}
	}
}

func TestEncodeChannel(t *testing.T) {
	codec := NewCodec(testPattern, "")

	addr, err := codec.EncodeChannel("Denmark Team!", "abc123", models.Options{ShowSender: true, PreferText: true})
	require.NoError(t, err)
	assert.Equal(t, "denmark-team-.abc123.show-sender@mirror.example.com", addr)

	token, opts, err := codec.Decode(addr)
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)
	assert.True(t, opts.ShowSender)
	assert.True(t, opts.PreferText)
	assert.False(t, opts.IncludeQuotes)
}

func TestEncodeChannelNameLikeFlag(t *testing.T) {
	codec := NewCodec(testPattern, "")

	addr, err := codec.EncodeChannel("Show sender", "abc123", models.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "abc123@mirror.example.com", addr)
}

func TestDecode(t *testing.T) {
	codec := NewCodec(testPattern, "")

	tests := []struct {
		name    string
		address string
		token   string
		opts    models.Options
	}{
		{
			name:    "Bare token",
			address: "abc123@mirror.example.com",
			token:   "abc123",
			opts:    models.Options{PreferText: true},
		},
		{
			name:    "Legacy plus separator",
			address: "denmark+abc123+include-quotes@mirror.example.com",
			token:   "abc123",
			opts:    models.Options{IncludeQuotes: true, PreferText: true},
		},
		{
			name:    "Prefer html",
			address: "abc123.prefer-html.include-footer@mirror.example.com",
			token:   "abc123",
			opts:    models.Options{IncludeFooter: true},
		},
		{
			name:    "Domain case is ignored",
			address: "abc123@Mirror.Example.COM",
			token:   "abc123",
			opts:    models.Options{PreferText: true},
		},
		{
			name:    "Surrounding whitespace",
			address: "  abc123@mirror.example.com ",
			token:   "abc123",
			opts:    models.Options{PreferText: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, opts, err := codec.Decode(tt.address)
			require.NoError(t, err)
			assert.Equal(t, tt.token, token)
			assert.Equal(t, tt.opts, opts)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	codec := NewCodec(testPattern, "")

	for _, addr := range []string{
		"abc123@example.com",
		"abc123@mirror.example.com.evil.org",
		"@mirror.example.com",
		"a.b.c@mirror.example.com",
		"show-sender@mirror.example.com",
		"not an address",
	} {
		_, _, err := codec.Decode(addr)
		assert.True(t, errors.Is(err, models.ErrMalformedAddress), "%s: %v", addr, err)
	}
}

func TestExtraPattern(t *testing.T) {
	codec := NewCodec(testPattern, "@example.com")

	token, _, err := codec.Decode("abc123@example.com")
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)

	token, _, err = codec.Decode("abc123@mirror.example.com")
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)

	assert.Equal(t, []string{"mirror.example.com", "example.com"}, codec.Domains())
	assert.Equal(t, []string{"mirror.example.com"}, NewCodec(testPattern, "").Domains())
}

func TestUnconfigured(t *testing.T) {
	codec := NewCodec("", "")
	assert.False(t, codec.Configured())

	_, err := codec.Encode("abc123", models.DefaultOptions())
	assert.True(t, errors.Is(err, models.ErrConfiguration))

	_, _, err = codec.Decode("abc123@mirror.example.com")
	assert.True(t, errors.Is(err, models.ErrConfiguration))
	assert.False(t, codec.Matches("abc123@mirror.example.com"))
}

func TestEncodeRejectsBadTokens(t *testing.T) {
	codec := NewCodec(testPattern, "")
	for _, token := range []string{"", "a.b", "a+b", "a@b", "include-quotes"} {
		_, err := codec.Encode(token, models.DefaultOptions())
		assert.True(t, errors.Is(err, models.ErrMalformedAddress), token)
	}
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "denmark", Slug("Denmark"))
	assert.Equal(t, "release-notes-2024", Slug("Release notes / 2024"))
	assert.Equal(t, "café-ops", Slug("Café Ops"))
}
