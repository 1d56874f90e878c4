package mirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]func(t *testing.T) Mirror {
	ret := map[string]func(t *testing.T) Mirror{
		BackendMemory: func(t *testing.T) Mirror {
			return NewMemoryMirror()
		},
		BackendYAML: func(t *testing.T) Mirror {
			m, err := NewYAMLFileMirror(filepath.Join(t.TempDir(), "mirror.yaml"))
			require.NoError(t, err)
			return m
		},
		BackendSQLite: func(t *testing.T) Mirror {
			dsn, err := SQLiteDSNForFile(filepath.Join(t.TempDir(), "mirror.db"))
			require.NoError(t, err)
			m, err := NewSQLiteMirror(dsn)
			require.NoError(t, err)
			return m
		},
		BackendBolt: func(t *testing.T) Mirror {
			m, err := NewBoltMirror(filepath.Join(t.TempDir(), "nested", "mirror.bolt"))
			require.NoError(t, err)
			return m
		},
	}
	if url := os.Getenv("CHATMIRROR_TEST_REDIS_URL"); url != "" {
		ret[BackendRedis] = func(t *testing.T) Mirror {
			m, err := NewRedisMirror(context.Background(), url, "chatmirror-test-"+t.Name())
			require.NoError(t, err)
			return m
		}
	}
	return ret
}

func TestMirrorBackends(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := open(t)

			_, ok, err := m.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, m.Put(ctx, "k", []byte(`{"a":1}`)))
			require.NoError(t, m.Put(ctx, "k", []byte(`{"a":2}`)))

			v, ok, err := m.Get(ctx, "k")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, `{"a":2}`, string(v))

			require.NoError(t, m.Delete(ctx, "k"))
			require.NoError(t, m.Delete(ctx, "k"))
			_, ok, err = m.Get(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, m.Close())
			err = m.Put(ctx, "k", []byte("x"))
			assert.True(t, errors.Is(err, ErrClosed), "put after close: %v", err)
		})
	}
}

func TestYAMLFileMirrorPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", "mirror.yaml")

	m, err := NewYAMLFileMirror(path)
	require.NoError(t, err)
	require.NoError(t, m.Put(ctx, KeyChatHistory, []byte(`{"conversations":[]}`)))
	require.NoError(t, m.Close())

	reopened, err := NewYAMLFileMirror(path)
	require.NoError(t, err)
	v, ok, err := reopened.Get(ctx, KeyChatHistory)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"conversations":[]}`, string(v))
}

func TestYAMLFileMirrorNullDocument(t *testing.T) {
	ctx := context.Background()
	for _, doc := range []string{"~\n", "null\n", ""} {
		path := filepath.Join(t.TempDir(), "mirror.yaml")
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

		m, err := NewYAMLFileMirror(path)
		require.NoError(t, err)
		_, ok, err := m.Get(ctx, KeyUserInfo)
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, m.Put(ctx, KeyUserInfo, []byte(`{}`)), "document %q", doc)
		require.NoError(t, m.Close())
	}
}

func TestSQLiteMirrorPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dsn, err := SQLiteDSNForFile(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)

	m, err := NewSQLiteMirror(dsn)
	require.NoError(t, err)
	require.NoError(t, m.Put(ctx, KeyUserInfo, []byte("token")))
	require.NoError(t, m.Close())

	reopened, err := NewSQLiteMirror(dsn)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	v, ok, err := reopened.Get(ctx, KeyUserInfo)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "token", string(v))
}

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestJSONEnvelope(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryMirror()

	require.NoError(t, PutJSON(ctx, m, "s", sample{Name: "x", Count: 2}))

	raw, _, err := m.Get(ctx, "s")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"data":{"name":"x","count":2}}`, string(raw))

	var out sample
	ok, err := GetJSON(ctx, m, "s", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sample{Name: "x", Count: 2}, out)
}

func TestJSONEnvelopeLegacyBareValue(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryMirror()
	require.NoError(t, m.Put(ctx, "s", []byte(`{"name":"legacy","count":1}`)))

	var out sample
	ok, err := GetJSON(ctx, m, "s", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "legacy", out.Name)
}

func TestJSONEnvelopeRejectsNewerVersion(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryMirror()
	require.NoError(t, m.Put(ctx, "s", []byte(`{"version":2,"data":{}}`)))

	var out sample
	ok, err := GetJSON(ctx, m, "s", &out)
	assert.True(t, ok)
	assert.True(t, errors.Is(err, ErrUnsupportedVersion))
}

func TestJSONEnvelopeMissingKey(t *testing.T) {
	var out sample
	ok, err := GetJSON(context.Background(), NewMemoryMirror(), "s", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, backend := range []string{BackendMemory, BackendYAML, BackendSQLite, BackendBolt} {
		m, err := Open(ctx, Config{Backend: backend, Path: filepath.Join(dir, backend, "mirror")})
		require.NoError(t, err, backend)
		require.NoError(t, m.Put(ctx, "k", []byte("v")), backend)
		require.NoError(t, m.Close(), backend)
	}

	_, err := Open(ctx, Config{Backend: BackendRedis})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Backend: "etcd"})
	assert.Error(t, err)
}
