package registry

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boedegoat/flyctf/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, Output: io.Discard})
	os.Exit(m.Run())
}

// writeChallenge creates one challenge directory under root.
func writeChallenge(t *testing.T, root, name, metadata, manifest string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if metadata != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "challenge.yaml"), []byte(metadata), 0o644))
	}
	if manifest != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "docker-compose.yml"), []byte(manifest), 0o644))
	}
}

const simpleManifest = `
services:
  web:
    image: challenge:latest
    expose:
      - "80"
`

func TestDiscoverSingleChallenge(t *testing.T) {
	root := t.TempDir()
	writeChallenge(t, root, "baby-xss", "public_port: 5000\ninternal_port: 80\n", simpleManifest)

	reg := Discover(root)
	require.Equal(t, 1, reg.Len())
	assert.Equal(t, []int{5000}, reg.Ports())

	ch, ok := reg.Lookup(5000)
	require.True(t, ok)
	assert.Equal(t, "baby-xss", ch.Name)
	assert.Equal(t, 5000, ch.PublicPort)
	assert.Equal(t, 80, ch.InternalPort)
	assert.Equal(t, "web", ch.MainService)
	assert.Equal(t, filepath.Join(root, "baby-xss"), ch.Dir)
	assert.Equal(t, filepath.Join(root, "baby-xss", "docker-compose.yml"), ch.ComposePath)

	state, ok := ch.Service("web")
	require.True(t, ok)
	assert.True(t, state.IsMain)
	assert.Empty(t, state.ContainerID)
}

func TestDiscoverPrefersYamlOverYml(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "chall")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "challenge.yaml"), []byte("public_port: 5000\ninternal_port: 80\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "challenge.yml"), []byte("public_port: 6000\ninternal_port: 80\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docker-compose.yml"), []byte(simpleManifest), 0o644))

	reg := Discover(root)
	_, ok := reg.Lookup(5000)
	assert.True(t, ok, "challenge.yaml should win over challenge.yml")
	_, ok = reg.Lookup(6000)
	assert.False(t, ok)
}

func TestDiscoverDuplicatePublicPort(t *testing.T) {
	root := t.TempDir()
	writeChallenge(t, root, "a", "public_port: 5000\ninternal_port: 80\n", simpleManifest)
	writeChallenge(t, root, "b", "public_port: 5000\ninternal_port: 80\n", simpleManifest)

	reg := Discover(root)
	require.Equal(t, 1, reg.Len())

	// Directory iteration is lexical, so "a" wins deterministically.
	ch, ok := reg.Lookup(5000)
	require.True(t, ok)
	assert.Equal(t, "a", ch.Name)
}

func TestDiscoverMalformedSiblingIsolated(t *testing.T) {
	root := t.TempDir()
	writeChallenge(t, root, "broken", "public_port: [not: valid\n", simpleManifest)
	writeChallenge(t, root, "good", "public_port: 5001\ninternal_port: 80\n", simpleManifest)

	reg := Discover(root)
	require.Equal(t, 1, reg.Len())
	_, ok := reg.Lookup(5001)
	assert.True(t, ok)
}

func TestDiscoverPortRanges(t *testing.T) {
	tests := []struct {
		name     string
		metadata string
		want     bool
	}{
		{"public port below range", "public_port: 1023\ninternal_port: 80\n", false},
		{"public port above range", "public_port: 65536\ninternal_port: 80\n", false},
		{"public port missing", "internal_port: 80\n", false},
		{"internal port zero", "public_port: 5000\ninternal_port: 0\n", false},
		{"internal port above range", "public_port: 5000\ninternal_port: 65536\n", false},
		{"lowest valid ports", "public_port: 1024\ninternal_port: 1\n", true},
		{"highest valid ports", "public_port: 65535\ninternal_port: 65535\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeChallenge(t, root, "chall", tt.metadata, simpleManifest)

			reg := Discover(root)
			if tt.want {
				assert.Equal(t, 1, reg.Len())
			} else {
				assert.Equal(t, 0, reg.Len())
			}
		})
	}
}

func TestDiscoverMissingFiles(t *testing.T) {
	root := t.TempDir()
	writeChallenge(t, root, "no-compose", "public_port: 5000\ninternal_port: 80\n", "")
	writeChallenge(t, root, "no-metadata", "", simpleManifest)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray-file"), []byte("not a dir"), 0o644))

	reg := Discover(root)
	assert.Equal(t, 0, reg.Len())
}

func TestDiscoverSkipsHiddenAndCacheDirs(t *testing.T) {
	root := t.TempDir()
	writeChallenge(t, root, ".hidden", "public_port: 5000\ninternal_port: 80\n", simpleManifest)
	writeChallenge(t, root, "__pycache__", "public_port: 5001\ninternal_port: 80\n", simpleManifest)
	writeChallenge(t, root, "node_modules", "public_port: 5002\ninternal_port: 80\n", simpleManifest)

	reg := Discover(root)
	assert.Equal(t, 0, reg.Len())
}

func TestDiscoverMissingRoot(t *testing.T) {
	reg := Discover(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Equal(t, 0, reg.Len())
}

func TestDiscoverEmptyServices(t *testing.T) {
	root := t.TempDir()
	writeChallenge(t, root, "empty-services", "public_port: 5000\ninternal_port: 80\n", "services: {}\n")
	writeChallenge(t, root, "no-services", "public_port: 5001\ninternal_port: 80\n", "version: \"3\"\n")

	reg := Discover(root)
	assert.Equal(t, 0, reg.Len())
}

func TestMainServiceSelection(t *testing.T) {
	tests := []struct {
		name     string
		metadata string
		manifest string
		wantMain string
	}{
		{
			name:     "unique expose match wins over order",
			metadata: "public_port: 5000\ninternal_port: 1337\n",
			manifest: `
services:
  db:
    image: redis
    expose:
      - "6379"
  web:
    image: challenge
    expose:
      - 1337
`,
			wantMain: "web",
		},
		{
			name:     "no match falls back to first service with expose",
			metadata: "public_port: 5000\ninternal_port: 9999\n",
			manifest: `
services:
  helper:
    image: helper
  web:
    image: challenge
    expose:
      - "80"
`,
			wantMain: "web",
		},
		{
			name:     "ambiguous expose match falls back to first with expose",
			metadata: "public_port: 5000\ninternal_port: 80\n",
			manifest: `
services:
  web2:
    image: challenge
    expose:
      - "80"
  web1:
    image: challenge
    expose:
      - "80"
`,
			wantMain: "web2",
		},
		{
			name:     "metadata hint when nothing exposes",
			metadata: "public_port: 5000\ninternal_port: 80\nservice_name: app\n",
			manifest: `
services:
  db:
    image: redis
  app:
    image: challenge
`,
			wantMain: "app",
		},
		{
			name:     "first service in manifest order as last resort",
			metadata: "public_port: 5000\ninternal_port: 80\nservice_name: missing\n",
			manifest: `
services:
  zeta:
    image: challenge
  alpha:
    image: helper
`,
			wantMain: "zeta",
		},
		{
			name:     "expose range covers internal port",
			metadata: "public_port: 5000\ninternal_port: 8005\n",
			manifest: `
services:
  db:
    image: redis
    expose:
      - "6379"
  web:
    image: challenge
    expose:
      - "8000-8010"
`,
			wantMain: "web",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeChallenge(t, root, "chall", tt.metadata, tt.manifest)

			reg := Discover(root)
			require.Equal(t, 1, reg.Len())
			ch, _ := reg.Lookup(5000)
			assert.Equal(t, tt.wantMain, ch.MainService)
		})
	}
}

func TestDiscoverSidecarServices(t *testing.T) {
	root := t.TempDir()
	writeChallenge(t, root, "chall", "public_port: 5000\ninternal_port: 80\n", `
services:
  web:
    image: challenge
    expose:
      - "80"
  db:
    image: redis
  cache:
    image: memcached
`)

	reg := Discover(root)
	require.Equal(t, 1, reg.Len())
	ch, _ := reg.Lookup(5000)
	assert.Equal(t, []string{"web", "db", "cache"}, ch.ServiceNames())

	web, _ := ch.Service("web")
	db, _ := ch.Service("db")
	assert.True(t, web.IsMain)
	assert.False(t, db.IsMain)
}

func TestExposesPort(t *testing.T) {
	tests := []struct {
		expose []string
		port   int
		want   bool
	}{
		{[]string{"80"}, 80, true},
		{[]string{"80"}, 81, false},
		{[]string{"80/tcp"}, 80, true},
		{[]string{"8000-8010"}, 8005, true},
		{[]string{"8000-8010"}, 8011, false},
		{[]string{"8000-8010/udp"}, 8000, true},
		{[]string{" 80 "}, 80, true},
		{[]string{"not-a-port"}, 80, false},
		{nil, 80, false},
	}

	for _, tt := range tests {
		svc := composeService{Name: "svc", Expose: tt.expose}
		assert.Equal(t, tt.want, svc.ExposesPort(tt.port), "expose=%v port=%d", tt.expose, tt.port)
	}
}
