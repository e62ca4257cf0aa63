package util

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormaliseDomain(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "with_https", input: "https://example.com", expected: "example.com"},
		{name: "with_http", input: "http://example.com", expected: "example.com"},
		{name: "with_www", input: "www.example.com", expected: "example.com"},
		{name: "with_all_prefixes", input: "https://www.Example.com/", expected: "example.com"},
		{name: "subdomain", input: "https://api.example.com", expected: "api.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormaliseDomain(tt.input))
		})
	}
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		base     string
		expected string
	}{
		{name: "root_path_kept", raw: "https://example.com/", expected: "https://example.com/"},
		{name: "empty_path_becomes_root", raw: "https://example.com", expected: "https://example.com/"},
		{name: "http_forced_to_https", raw: "http://example.com/news", expected: "https://example.com/news"},
		{name: "www_stripped", raw: "https://www.example.com/news", expected: "https://example.com/news"},
		{name: "host_lowercased", raw: "https://EXAMPLE.com/News", expected: "https://example.com/News"},
		{name: "fragment_stripped", raw: "https://example.com/a#comments", expected: "https://example.com/a"},
		{name: "trailing_slash_stripped", raw: "https://example.com/b/", expected: "https://example.com/b"},
		{name: "default_port_stripped", raw: "https://example.com:443/a", expected: "https://example.com/a"},
		{name: "relative_resolved", raw: "/a", base: "https://example.com/", expected: "https://example.com/a"},
		{name: "relative_sibling", raw: "c.html", base: "https://example.com/b/x", expected: "https://example.com/b/c.html"},
		{name: "protocol_relative", raw: "//www.example.com/x", base: "https://example.com/", expected: "https://example.com/x"},
		{name: "tracking_dropped", raw: "https://example.com/a?utm_source=x&fbclid=1&gclid=2", expected: "https://example.com/a"},
		{name: "unknown_params_dropped", raw: "https://example.com/a?ref=home&sort=asc", expected: "https://example.com/a"},
		{name: "allowed_params_kept_lowercased", raw: "https://example.com/a?PAGE=2&Category=tech", expected: "https://example.com/a?category=tech&page=2"},
		{name: "mixed_params", raw: "https://example.com/a?utm_medium=mail&p=3&mc_cid=9&x=1", expected: "https://example.com/a?p=3"},
		{name: "repeated_param_last_wins", raw: "https://example.com/list?page=1&page=2", expected: "https://example.com/list?page=2"},
		{name: "mixed_case_duplicate_last_wins", raw: "https://example.com/list?Page=1&page=2", expected: "https://example.com/list?page=2"},
		{name: "mixed_case_duplicate_reversed", raw: "https://example.com/list?page=2&PAGE=1", expected: "https://example.com/list?page=1"},
		{name: "escaped_value_kept", raw: "https://example.com/a?category=tin%20tuc&&p=", expected: "https://example.com/a?category=tin+tuc&p="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.raw, tt.base)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestCanonicalizeIsDeterministic(t *testing.T) {
	raw := "https://example.com/list?Page=1&page=2&CATEGORY=a&category=b"

	first, err := Canonicalize(raw, "")
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		got, err := Canonicalize(raw, "")
		require.NoError(t, err)
		require.Equal(t, first, got, "iteration %d", i)
	}
	assert.Equal(t, "https://example.com/list?category=b&page=2", first)
}

func TestCanonicalizeVariantsConverge(t *testing.T) {
	variants := []string{
		"https://example.com/tin-tuc/123456",
		"http://example.com/tin-tuc/123456",
		"https://www.example.com/tin-tuc/123456",
		"https://example.com/tin-tuc/123456/",
		"https://example.com/tin-tuc/123456#top",
		"https://example.com/tin-tuc/123456?utm_source=fb&utm_campaign=x",
		"http://WWW.example.com/tin-tuc/123456/?fbclid=abc#share",
	}

	first, err := Canonicalize(variants[0], "")
	require.NoError(t, err)

	for _, v := range variants[1:] {
		got, err := Canonicalize(v, "")
		require.NoError(t, err, v)
		assert.Equal(t, first, got, v)
	}
}

func TestCanonicalizeMalformed(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"http://[::1",
		"http://exa mple.com/",
		"https://example.com/%zz",
		"mailto:someone@example.com",
		"javascript:void(0)",
		"ftp://example.com/file",
		"http:///no-host",
		"/relative/without/base",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			assert.NotPanics(t, func() {
				got, err := Canonicalize(in, "")
				assert.Empty(t, got)
				assert.True(t, errors.Is(err, ErrMalformedURL), "expected ErrMalformedURL, got %v", err)
			})
		})
	}
}

func TestCanonicalizeInvalidBase(t *testing.T) {
	_, err := Canonicalize("/a", "not a base")
	assert.ErrorIs(t, err, ErrMalformedURL)
}

func TestIsInScope(t *testing.T) {
	tests := []struct {
		host     string
		root     string
		expected bool
	}{
		{"example.com", "example.com", true},
		{"www.example.com", "example.com", true},
		{"example.com", "www.example.com", true},
		{"sub.example.com", "example.com", true},
		{"deep.sub.example.com", "example.com", true},
		{"other-domain.com", "example.com", false},
		{"notexample.com", "example.com", false},
		{"example.com.evil.net", "example.com", false},
		{"", "example.com", false},
		{"example.com", "", false},
		{"Blog.EXAMPLE.com", "example.com", true},
		{"sub.example.com", "https://www.example.com/", true},
	}

	for _, tt := range tests {
		t.Run(tt.host+"_"+tt.root, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsInScope(tt.host, tt.root))
		})
	}
}

func TestRootHostname(t *testing.T) {
	host, err := RootHostname("https://www.Example.com/start")
	require.NoError(t, err)
	assert.Equal(t, "example.com", host)

	_, err = RootHostname("not-a-url")
	assert.ErrorIs(t, err, ErrMalformedURL)
}

func TestScorePriority(t *testing.T) {
	tests := []struct {
		url      string
		expected int
	}{
		{"https://example.com/", PriorityDefault},
		{"https://example.com/the-gioi", PriorityDefault},
		{"https://example.com/story-4812345", PriorityArticle},
		{"https://example.com/news/item.html", PriorityArticle},
		{"https://example.com/tin-tuc-moi", PriorityArticle},
		{"https://example.com/bai-viet/abc", PriorityArticle},
		{"https://example.com/12345", PriorityDefault},
		{"https://example.com/?page=1234567", PriorityDefault},
		{"%zz", PriorityDefault},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.expected, ScorePriority(tt.url))
		})
	}
}
