package util

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrMalformedURL is returned when a URL cannot be parsed into a crawlable form.
// It is a per-URL failure and never fatal to a crawl run.
var ErrMalformedURL = errors.New("malformed url")

// Priority scores assigned by ScorePriority
const (
	PriorityDefault = 0
	PriorityArticle = 10
)

// trackingParamPattern matches query parameters used purely for campaign attribution
var trackingParamPattern = regexp.MustCompile(`(?i)^(utm_|fbclid|gclid|yclid|mc_)`)

// keptQueryParams lists the query parameters that change page content (pagination and
// category filters). Everything else is dropped during canonicalisation.
var keptQueryParams = map[string]bool{
	"page":     true,
	"p":        true,
	"start":    true,
	"offset":   true,
	"cate":     true,
	"category": true,
}

var (
	longDigitRun       = regexp.MustCompile(`\d{6,}`)
	articleSlugMarkers = []string{"tin-", "bai-"}
)

// NormaliseDomain removes http/https prefix, www. and any trailing slash from domain
func NormaliseDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimPrefix(domain, "https://")
	domain = StripWWW(domain)
	domain = strings.TrimSuffix(domain, "/")

	return strings.ToLower(domain)
}

// StripWWW removes a single leading "www." label from a hostname
func StripWWW(host string) string {
	if len(host) >= 4 && strings.EqualFold(host[:4], "www.") {
		return host[4:]
	}
	return host
}

// Canonicalize resolves rawURL against baseURL (which may be empty for absolute input) and
// rewrites it into the single representation used as the queue and page key:
//   - scheme is always https
//   - host is lower-cased, without a leading www. or a default port
//   - fragment is removed
//   - tracking parameters are dropped and only pagination/category parameters are kept,
//     with lower-cased names
//   - a trailing slash is removed from every path except the root
//
// Unparseable input, non-HTTP schemes and URLs without a host return ErrMalformedURL.
func Canonicalize(rawURL, baseURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("%w: empty url", ErrMalformedURL)
	}

	ref, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}

	if !ref.IsAbs() {
		if baseURL == "" {
			return "", fmt.Errorf("%w: relative url %q without base", ErrMalformedURL, rawURL)
		}
		base, err := url.Parse(baseURL)
		if err != nil || !base.IsAbs() {
			return "", fmt.Errorf("%w: invalid base %q", ErrMalformedURL, baseURL)
		}
		ref = base.ResolveReference(ref)
	}

	scheme := strings.ToLower(ref.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrMalformedURL, ref.Scheme)
	}

	host := strings.ToLower(normaliseHostPort(ref.Host, scheme))
	host = StripWWW(host)
	if ref.Hostname() == "" || host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrMalformedURL, rawURL)
	}

	out := &url.URL{
		Scheme:   "https",
		Host:     host,
		Path:     trimTrailingSlash(ref.Path),
		RawPath:  trimTrailingSlash(ref.RawPath),
		RawQuery: canonicalQuery(ref.RawQuery),
	}
	if ref.RawPath == "" {
		out.RawPath = ""
	}

	return out.String(), nil
}

func trimTrailingSlash(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	if trimmed := strings.TrimRight(path, "/"); trimmed != "" {
		return trimmed
	}
	return "/"
}

// canonicalQuery filters the raw query down to the allow-list. Pairs are applied in source
// order so the last occurrence of a name wins, whatever its original case. Encoding sorts keys,
// so two URLs with the same parameters in a different order produce the same string.
func canonicalQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	kept := url.Values{}
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil || trackingParamPattern.MatchString(key) {
			continue
		}
		name := strings.ToLower(key)
		if !keptQueryParams[name] {
			continue
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			continue
		}
		kept.Set(name, value)
	}

	return kept.Encode()
}

// IsInScope reports whether hostname is the root host or one of its subdomains.
// Both sides are compared without a leading www. label.
func IsInScope(hostname, rootHostname string) bool {
	host := NormaliseDomain(hostname)
	root := NormaliseDomain(rootHostname)
	if host == "" || root == "" {
		return false
	}

	return host == root || strings.HasSuffix(host, "."+root)
}

// RootHostname derives the crawl scope from a seed or queued URL
func RootHostname(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if parsed.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrMalformedURL, rawURL)
	}

	return NormaliseDomain(parsed.Hostname()), nil
}

// ScorePriority returns PriorityArticle when the URL path looks like an article (a run of six
// or more digits, a .html suffix, or a known slug marker) and PriorityDefault otherwise.
// The score only orders queue claims.
func ScorePriority(rawURL string) int {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		log.Debug().Str("url", rawURL).Err(err).Msg("Cannot score unparseable URL")
		return PriorityDefault
	}

	path := strings.ToLower(parsed.Path)
	if longDigitRun.MatchString(path) || strings.HasSuffix(path, ".html") {
		return PriorityArticle
	}
	for _, marker := range articleSlugMarkers {
		if strings.Contains(path, marker) {
			return PriorityArticle
		}
	}

	return PriorityDefault
}

// normaliseHostPort removes default ports (80 for HTTP, 443 for HTTPS) from host.
func normaliseHostPort(host, scheme string) string {
	if scheme == "http" && strings.HasSuffix(host, ":80") {
		return strings.TrimSuffix(host, ":80")
	}
	if scheme == "https" && strings.HasSuffix(host, ":443") {
		return strings.TrimSuffix(host, ":443")
	}
	return host
}
