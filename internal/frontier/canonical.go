package frontier

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ErrInvalidURI is returned by Schedule for URIs that cannot be canonicalized.
var ErrInvalidURI = errors.New("invalid uri")

// URLCanonicalizer normalizes absolute http(s) URIs so equivalent spellings
// share one fingerprint.
type URLCanonicalizer struct{}

// Canonicalize lowercases scheme and host, drops default ports and the
// fragment, sorts query parameters and gives an empty path a trailing slash.
func (URLCanonicalizer) Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: parse url: %v", ErrInvalidURI, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not absolute", ErrInvalidURI, raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String(), nil
}

func hostOf(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("url %q has no host", uri)
	}
	return strings.ToLower(host), nil
}

// HostClassifier keys queues by hostname (port included when non-default).
type HostClassifier struct{}

// Key returns the item's host.
func (HostClassifier) Key(item *CrawlItem) (string, error) {
	u, err := url.Parse(item.URI)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", item.URI)
	}
	return strings.ToLower(u.Host), nil
}

// DomainClassifier keys queues by registered domain (eTLD+1), so
// www.example.co.uk and static.example.co.uk share a queue. IP addresses and
// hosts without a public suffix fall back to the bare host.
type DomainClassifier struct{}

// Key returns the item's registered domain.
func (DomainClassifier) Key(item *CrawlItem) (string, error) {
	host, err := hostOf(item.URI)
	if err != nil {
		return "", err
	}
	if net.ParseIP(host) != nil {
		return host, nil
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host, nil
	}
	return domain, nil
}
