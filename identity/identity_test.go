package identity

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExternalID_Stable(t *testing.T) {
	a := ExternalID("https://bilhandlare.se/bil/volvo-v70-123")
	b := ExternalID("https://bilhandlare.se/bil/volvo-v70-123")
	c := ExternalID("https://bilhandlare.se/bil/volvo-v70-124")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}

func TestCanonicalURL(t *testing.T) {
	root, err := url.Parse("https://bilhandlare.se/bilar")
	require.NoError(t, err)

	tests := []struct {
		name string
		href string
		want string
		ok   bool
	}{
		{"relative", "/bil/volvo-v70-123", "https://bilhandlare.se/bil/volvo-v70-123", true},
		{"strips query and fragment", "/bil/volvo-v70-123?utm=x#bilder", "https://bilhandlare.se/bil/volvo-v70-123", true},
		{"trailing slash", "https://bilhandlare.se/bil/volvo-v70-123/", "https://bilhandlare.se/bil/volvo-v70-123", true},
		{"www same host", "https://www.bilhandlare.se/bil/a-1", "https://www.bilhandlare.se/bil/a-1", true},
		{"cross host", "https://annan.se/bil/a-1", "", false},
		{"javascript", "javascript:void(0)", "", false},
		{"mailto", "mailto:info@bilhandlare.se", "", false},
		{"empty", "  ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CanonicalURL(tt.href, root)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPathDepth(t *testing.T) {
	assert.Equal(t, 0, PathDepth("https://bilhandlare.se/"))
	assert.Equal(t, 1, PathDepth("https://bilhandlare.se/bil"))
	assert.Equal(t, 2, PathDepth("https://bilhandlare.se/bil/volvo-v70-123"))
}
