package frontier

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestURLCanonicalizer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase and default port", "HTTP://Example.COM:80/a", "http://example.com/a"},
		{"https default port", "https://example.com:443/x?b=2&a=1#frag", "https://example.com/x?a=1&b=2"},
		{"empty path", "https://example.com", "https://example.com/"},
		{"keeps custom port", "http://example.com:8080/", "http://example.com:8080/"},
	}
	c := URLCanonicalizer{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Canonicalize(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := c.Canonicalize("/relative/path")
	require.ErrorIs(t, err, ErrInvalidURI)
	_, err = c.Canonicalize("http://[::1")
	require.ErrorIs(t, err, ErrInvalidURI)
}

func TestClassifiers(t *testing.T) {
	t.Parallel()

	item := &CrawlItem{URI: "https://static.Example.co.uk:8443/img.png"}
	host, err := HostClassifier{}.Key(item)
	require.NoError(t, err)
	require.Equal(t, "static.example.co.uk:8443", host)

	domain, err := DomainClassifier{}.Key(item)
	require.NoError(t, err)
	require.Equal(t, "example.co.uk", domain)

	ip, err := DomainClassifier{}.Key(&CrawlItem{URI: "http://127.0.0.1/"})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", ip)

	_, err = HostClassifier{}.Key(&CrawlItem{URI: "mailto:someone"})
	require.Error(t, err)
}
