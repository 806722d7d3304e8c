package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const authorsYAML = `
zoe:
  name: Zoe
  title: Maintainer
  url: https://github.com/zoe
  image_url: /img/authors/zoe.png
adam:
  name: Adam
  url: " https://github.com/adam "
guest:
  name: Guest Writer
  title: Contributor
nobody:
`

func TestParse_PreservesDocumentOrder(t *testing.T) {
	m, err := Parse([]byte(authorsYAML))
	require.NoError(t, err)

	require.Equal(t, 4, m.Len())
	names := make([]string, 0, m.Len())
	for _, e := range m.Entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"zoe", "adam", "guest", "nobody"}, names)
}

func TestParse_Locators(t *testing.T) {
	m, err := Parse([]byte(authorsYAML))
	require.NoError(t, err)

	zoe, ok := m.Lookup("zoe")
	require.True(t, ok)
	assert.Equal(t, "https://github.com/zoe", zoe.URL)

	adam, _ := m.Lookup("adam")
	assert.Equal(t, "https://github.com/adam", adam.URL, "url should be trimmed")

	guest, _ := m.Lookup("guest")
	assert.False(t, guest.HasLocator())

	nobody, _ := m.Lookup("nobody")
	assert.False(t, nobody.HasLocator())

	_, ok = m.Lookup("missing")
	assert.False(t, ok)
}

func TestParse_Fetchable(t *testing.T) {
	m, err := Parse([]byte(authorsYAML))
	require.NoError(t, err)

	fetchable := m.Fetchable()
	require.Len(t, fetchable, 2)
	assert.Equal(t, "zoe", fetchable[0].Name)
	assert.Equal(t, "adam", fetchable[1].Name)
}

func TestParse_Aliases(t *testing.T) {
	data := `
base: &base
  url: https://github.com/shared
alias: *base
`
	m, err := Parse([]byte(data))
	require.NoError(t, err)

	e, ok := m.Lookup("alias")
	require.True(t, ok)
	assert.Equal(t, "https://github.com/shared", e.URL)
}

func TestParse_Empty(t *testing.T) {
	for _, data := range []string{"", "# only a comment\n", "~\n"} {
		m, err := Parse([]byte(data))
		require.NoError(t, err, "input %q", data)
		assert.Equal(t, 0, m.Len())
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "malformed yaml", data: "a: [unclosed\n"},
		{name: "root is a sequence", data: "- a\n- b\n"},
		{name: "root is a scalar", data: "hello\n"},
		{name: "duplicate name", data: "a:\n  url: x\na:\n  url: y\n"},
		{name: "url is a mapping", data: "a:\n  url:\n    nested: true\n"},
		{name: "mapping as key", data: "? {a: 1}\n: {url: x}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)

			var parseErr *ParseError
			assert.True(t, errors.As(err, &parseErr), "expected *ParseError, got %T", err)
		})
	}
}

func TestParseError_Message(t *testing.T) {
	err := &ParseError{Line: 3, Err: errors.New("boom")}
	assert.Equal(t, "parse manifest: line 3: boom", err.Error())

	err = &ParseError{Err: errors.New("boom")}
	assert.Equal(t, "parse manifest: boom", err.Error())
}

type stubGetter struct {
	data []byte
	err  error
	got  string
}

func (s *stubGetter) Get(_ context.Context, locator string) ([]byte, error) {
	s.got = locator
	return s.data, s.err
}

func TestLoad_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authors.yml")
	require.NoError(t, os.WriteFile(path, []byte(authorsYAML), 0o644))

	m, err := Load(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, m.Len())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.yml"), nil)
	require.Error(t, err)

	var parseErr *ParseError
	assert.False(t, errors.As(err, &parseErr), "read failures are not parse errors")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_Remote(t *testing.T) {
	getter := &stubGetter{data: []byte(authorsYAML)}

	m, err := Load(context.Background(), "https://raw.example.com/blog/authors.yml", getter)
	require.NoError(t, err)
	assert.Equal(t, "https://raw.example.com/blog/authors.yml", getter.got)
	assert.Equal(t, 4, m.Len())
}

func TestLoad_RemoteErrors(t *testing.T) {
	_, err := Load(context.Background(), "https://raw.example.com/a.yml", nil)
	assert.Error(t, err)

	cause := errors.New("unreachable")
	_, err = Load(context.Background(), "https://raw.example.com/a.yml", &stubGetter{err: cause})
	assert.ErrorIs(t, err, cause)
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://example.com/a.yml"))
	assert.True(t, IsRemote("http://example.com/a.yml"))
	assert.False(t, IsRemote("/srv/docs/blog/authors.yml"))
	assert.False(t, IsRemote("blog/authors.yml"))
}
