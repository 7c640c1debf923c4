package mcpmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityComparesByValue(t *testing.T) {
	t.Parallel()
	a := ServerDescriptor{URL: " https://a.example ", Headers: map[string]string{"x-api-key": "1", "Accept": "json"}}
	b := ServerDescriptor{URL: "https://a.example", Transport: TransportAuto, Headers: map[string]string{"Accept": "json", "X-Api-Key": "1"}, DisplayName: "A", ExplicitKey: "a"}
	assert.Equal(t, a.Identity(), b.Identity())

	c := b
	c.Headers = map[string]string{"Accept": "json", "X-Api-Key": "2"}
	assert.NotEqual(t, b.Identity(), c.Identity())

	d := b
	d.Transport = TransportSSE
	assert.NotEqual(t, b.Identity(), d.Identity())
}

func TestSourceResolvesToDescriptor(t *testing.T) {
	t.Parallel()
	bare := URLOnly("https://api.github.com")
	require.True(t, bare.IsURLOnly())
	assert.Equal(t, ServerDescriptor{URL: "https://api.github.com", Transport: TransportAuto}, bare.Descriptor())

	full := FullDescriptor(ServerDescriptor{URL: "https://api.github.com", ExplicitKey: "gh", Transport: TransportStreamable})
	require.False(t, full.IsURLOnly())
	assert.Equal(t, "gh", full.Descriptor().ExplicitKey)
	assert.Equal(t, TransportStreamable, full.Descriptor().Transport)

	assert.Equal(t, bare.Descriptor().Identity(), FullDescriptor(ServerDescriptor{URL: "https://api.github.com"}).Descriptor().Identity())
}

func TestParseTransportKind(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]TransportKind{
		"":                TransportAuto,
		"auto":            TransportAuto,
		"HTTP":            TransportStreamable,
		"streamable-http": TransportStreamable,
		" sse ":           TransportSSE,
	} {
		got, err := ParseTransportKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseTransportKind("stdio")
	assert.Error(t, err)
}
