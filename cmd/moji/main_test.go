package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/moji/pkg/node"
)

// cli runs moji against a badger tracker and one HTTP storage node.
type cli struct {
	configPath string
	nodeRoot   string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	dir := t.TempDir()

	store, err := node.NewStore(context.Background(), filepath.Join(dir, "node"))
	require.NoError(t, err)
	srv := httptest.NewServer(node.NewHandler(store))
	t.Cleanup(srv.Close)

	configPath := filepath.Join(dir, "config.yaml")
	config := fmt.Sprintf(`
logging:
  level: ERROR
  output: %s
client:
  domain: cli
  storage_class: default
tracker:
  type: badger
  nodes:
    - dev_id: 1
      url: %s
  badger:
    db_path: %s
transport:
  http:
    timeout: 5s
`, filepath.Join(dir, "moji.log"), srv.URL, filepath.Join(dir, "tracker"))
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0644))

	return &cli{configPath: configPath, nodeRoot: store.Root()}
}

func (c *cli) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(t.Context(), append([]string{"--config", c.configPath}, args...),
		strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), err
}

func (c *cli) mustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	out, err := c.run(t, stdin, args...)
	require.NoError(t, err, "moji %s", strings.Join(args, " "))
	return out
}

func TestCLI_Lifecycle(t *testing.T) {
	c := newCLI(t)
	src := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello moji"), 0644))

	c.mustRun(t, "", "put", "greeting", src)

	assert.Equal(t, "true\n", c.mustRun(t, "", "exists", "greeting"))
	assert.Equal(t, "10\n", c.mustRun(t, "", "length", "greeting"))
	assert.Equal(t, "hello moji", c.mustRun(t, "", "get", "greeting"))

	attrs := c.mustRun(t, "", "attrs", "greeting")
	assert.Contains(t, attrs, "key=greeting")
	assert.Contains(t, attrs, "class=default")
	assert.Contains(t, attrs, "length=10")

	paths := c.mustRun(t, "", "paths", "greeting")
	assert.Contains(t, paths, "/dev1/")

	dst := filepath.Join(t.TempDir(), "copy.txt")
	c.mustRun(t, "", "get", "greeting", dst)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello moji", string(data))

	c.mustRun(t, "", "rename", "greeting", "salutation")
	assert.Equal(t, "false\n", c.mustRun(t, "", "exists", "greeting"))
	assert.Equal(t, "salutation\n", c.mustRun(t, "", "list"))

	c.mustRun(t, "", "class", "salutation", "archive")
	assert.Contains(t, c.mustRun(t, "", "attrs", "salutation"), "class=archive")

	c.mustRun(t, "", "delete", "salutation")
	assert.Equal(t, "false\n", c.mustRun(t, "", "exists", "salutation"))
}

func TestCLI_StreamFromStdin(t *testing.T) {
	c := newCLI(t)

	c.mustRun(t, "streamed content", "put", "--stream", "s1", "-")
	assert.Equal(t, "streamed content", c.mustRun(t, "", "get", "s1"))
}

func TestCLI_StreamKnownSize(t *testing.T) {
	c := newCLI(t)
	src := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(src, bytes.Repeat([]byte("x"), 64*1024), 0644))

	c.mustRun(t, "", "put", "--stream", "big", src)
	assert.Equal(t, "65536\n", c.mustRun(t, "", "length", "big"))
}

func TestCLI_ListWithPrefixAndLimit(t *testing.T) {
	c := newCLI(t)
	for _, key := range []string{"a/1", "a/2", "a/3", "b/1"} {
		c.mustRun(t, key, "put", key, "-")
	}

	assert.Equal(t, "a/1\na/2\na/3\n", c.mustRun(t, "", "list", "a/"))
	assert.Equal(t, "a/1\na/2\n", c.mustRun(t, "", "list", "--limit", "2"))
}

func TestCLI_DomainOverride(t *testing.T) {
	c := newCLI(t)

	c.mustRun(t, "x", "--domain", "other", "put", "k", "-")
	assert.Equal(t, "false\n", c.mustRun(t, "", "exists", "k"))
	assert.Equal(t, "true\n", c.mustRun(t, "", "--domain", "other", "exists", "k"))
}

func TestCLI_Errors(t *testing.T) {
	c := newCLI(t)

	_, err := c.run(t, "", "get", "missing")
	assert.Error(t, err)

	_, err = c.run(t, "", "rename", "only-one-arg")
	assert.ErrorIs(t, err, errUsage)

	_, err = c.run(t, "", "frobnicate")
	assert.ErrorIs(t, err, errUsage)

	_, err = c.run(t, "")
	assert.ErrorIs(t, err, errUsage)
}

func TestCLI_Init(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moji", "config.yaml")
	var stdout, stderr bytes.Buffer

	err := run(t.Context(), []string{"init", "--path", path}, nil, &stdout, &stderr)
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), path)
	assert.FileExists(t, path)

	err = run(t.Context(), []string{"init", "--path", path}, nil, &stdout, &stderr)
	assert.Error(t, err, "existing file without --force")

	err = run(t.Context(), []string{"init", "--force", "--path", path}, nil, &stdout, &stderr)
	assert.NoError(t, err)
}
