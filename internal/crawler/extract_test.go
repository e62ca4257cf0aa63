package crawler

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articlePage = `<!DOCTYPE html>
<html>
<head>
  <title>  Tin tức hôm nay  </title>
  <meta name="description" content="Daily headlines">
</head>
<body>
  <nav><a href="/">Home</a><a href="/tin-tuc/">News</a></nav>
  <article>Too short</article>
  <div class="fck_detail">Also short</div>
  <div class="article-detail">
    <script>var filler = "this script is long enough to pass the threshold on its own if it were counted as text by mistake";</script>
    tiny
  </div>
  <div class="main_content">
    <p>Lorem ipsum dolor sit amet,
       consectetur adipiscing elit.</p>
    <script>var tracking = "should not appear";</script>
    <style>.x { color: red; }</style>
    <div class="related">Related: other stories you may like</div>
    <p>Sed do eiusmod tempor incididunt ut labore et dolore magna aliqua.</p>
  </div>
  <a href="/tin-123456.html">Story</a>
  <a href="/tin-123456.html">Story again</a>
  <a href="#top">Top</a>
  <a href="javascript:void(0)">JS</a>
  <a href="mailto:news@example.com">Mail</a>
  <a href="tel:+84123">Call</a>
  <a href="">Empty</a>
  <a href="https://other.example.org/page">Elsewhere</a>
</body>
</html>`

func TestExtractPicksFirstQualifyingCandidate(t *testing.T) {
	e := NewExtractor(nil)

	content, err := e.Extract([]byte(articlePage))
	require.NoError(t, err)

	assert.Equal(t, "Tin tức hôm nay", content.Title)
	assert.Equal(t, "Daily headlines", content.Description)
	assert.Equal(t,
		"Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore et dolore magna aliqua.",
		content.Content)
	assert.NotContains(t, content.Content, "tracking")
	assert.NotContains(t, content.Content, "Related")
}

func TestExtractLinks(t *testing.T) {
	e := NewExtractor(nil)

	content, err := e.Extract([]byte(articlePage))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/",
		"/tin-tuc/",
		"/tin-123456.html",
		"https://other.example.org/page",
	}, content.Links)
}

func TestExtractNoQualifyingCandidate(t *testing.T) {
	e := NewExtractor(nil)

	content, err := e.Extract([]byte(`<html><head><title>Index</title></head><body><article>short</article><a href="/a">a</a></body></html>`))
	require.NoError(t, err)

	assert.Equal(t, "Index", content.Title)
	assert.Empty(t, content.Content)
	assert.Empty(t, content.Description)
	assert.Equal(t, []string{"/a"}, content.Links)
}

func TestExtractThresholdIsExclusive(t *testing.T) {
	e := NewExtractor(&Policy{Candidates: []string{"article"}, MinContentLength: 10})

	exact, err := e.Extract([]byte(`<article>0123456789</article>`))
	require.NoError(t, err)
	assert.Empty(t, exact.Content, "text equal to the minimum does not qualify")

	over, err := e.Extract([]byte(`<article>0123456789a</article>`))
	require.NoError(t, err)
	assert.Equal(t, "0123456789a", over.Content)
}

func TestExtractCountsCharactersNotBytes(t *testing.T) {
	e := NewExtractor(&Policy{Candidates: []string{"article"}, MinContentLength: 10})

	// Eleven runes, many more bytes
	content, err := e.Extract([]byte(`<article>ươươươươươư</article>`))
	require.NoError(t, err)
	assert.Equal(t, "ươươươươươư", content.Content)

	content, err = e.Extract([]byte(`<article>ươươươươươ</article>`))
	require.NoError(t, err)
	assert.Empty(t, content.Content)
}

func TestExtractFirstMatchOnlyPerSelector(t *testing.T) {
	e := NewExtractor(&Policy{Candidates: []string{"article", "section"}, MinContentLength: 20})

	page := `<article>short</article><article>` + strings.Repeat("long text ", 5) + `</article><section>` + strings.Repeat("section text ", 3) + `</section>`
	content, err := e.Extract([]byte(page))
	require.NoError(t, err)
	assert.Equal(t, "section text section text section text", content.Content)
}

func TestLoadPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
candidates:
  - ".story-body"
  - "main"
min_content_length: 50
`), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)

	assert.Equal(t, []string{".story-body", "main"}, p.Candidates)
	assert.Equal(t, 50, p.MinContentLength)
	assert.Equal(t, DefaultPolicy().Boilerplate, p.Boilerplate)
}

func TestLoadPolicyDefaultsWhenEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p)
}

func TestLoadPolicyErrors(t *testing.T) {
	t.Run("missing_file", func(t *testing.T) {
		_, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid_yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("candidates: [unterminated"), 0o600))
		_, err := LoadPolicy(path)
		assert.Error(t, err)
	})

	t.Run("blank_selector", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "blank.yaml")
		require.NoError(t, os.WriteFile(path, []byte("candidates: [\"article\", \"  \"]\n"), 0o600))
		_, err := LoadPolicy(path)
		assert.Error(t, err)
	})
}
