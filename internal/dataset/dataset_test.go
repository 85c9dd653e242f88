package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"respec/internal/specgraph"
)

const fieldsYAML = `
version: "2024.1"
fields:
  - field_name: digitalIO
    section: io
    selection_type: single_choice
  - field_name: power
    section: power
    selection_type: single_choice
`

const specsJSON = `{
  "specifications": [
    {"id": "P1", "name": "8 Digital IO", "field_name": "digitalIO", "selected_value": "8", "requires": {"power": ["P2"]}},
    {"id": "P2", "name": "24V DC", "field_name": "power", "selected_value": "24V"}
  ],
  "exclusions": []
}`

type fakeOrigin struct {
	mu        sync.Mutex
	docs      map[string][]byte
	readCalls int
	listCalls int
}

func newFakeOrigin(docs map[string]string) *fakeOrigin {
	o := &fakeOrigin{docs: map[string][]byte{}}
	for k, v := range docs {
		o.docs[k] = []byte(v)
	}
	return o
}

func (o *fakeOrigin) Read(_ context.Context, name string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.readCalls++
	raw, ok := o.docs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return append([]byte(nil), raw...), nil
}

func (o *fakeOrigin) List(_ context.Context) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listCalls++
	names := make([]string, 0, len(o.docs))
	for k := range o.docs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}

func (o *fakeOrigin) Put(_ context.Context, name string, content []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.docs[name] = append([]byte(nil), content...)
	return nil
}

func writeDocs(t *testing.T, docs map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, body := range docs {
		full := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(body), 0o644))
	}
	return root
}

func TestDiskSourceListsDocuments(t *testing.T) {
	root := writeDocs(t, map[string]string{
		"fields.yaml":        fieldsYAML,
		"catalog/specs.json": specsJSON,
		"README.md":          "ignored",
	})
	src := NewDiskSource(root)

	names, err := src.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"catalog/specs.json", "fields.yaml"}, names)

	_, err = src.Read(context.Background(), "missing.json")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = src.Read(context.Background(), "../etc/passwd")
	assert.Error(t, err)

	require.NoError(t, src.Put(context.Background(), "extra/more.yml", []byte("fields: []")))
	raw, err := src.Read(context.Background(), "extra/more.yml")
	require.NoError(t, err)
	assert.Equal(t, "fields: []", string(raw))
}

func TestLoaderMergesJSONAndYAML(t *testing.T) {
	root := writeDocs(t, map[string]string{
		"fields.yaml": fieldsYAML,
		"specs.json":  specsJSON,
	})
	idx, err := NewLoader(NewDiskSource(root), WithParallel(2)).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2024.1", idx.Version())
	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, []string{"P2"}, idx.RequiredIDs("P1"))
	f, ok := idx.Field("power")
	require.True(t, ok)
	assert.True(t, f.SingleChoice())
}

func TestLoaderRejectsInvalidCatalog(t *testing.T) {
	origin := newFakeOrigin(map[string]string{
		"specs.json": `{"specifications": [{"id": "P1", "name": "x", "field_name": "nowhere"}]}`,
	})
	_, err := NewLoader(origin).Dataset(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")

	origin = newFakeOrigin(map[string]string{"bad.yaml": "fields: [::"})
	_, err = NewLoader(origin).Dataset(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")

	_, err = NewLoader(newFakeOrigin(nil)).Dataset(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadIntoKeepsPreviousIndexOnFailure(t *testing.T) {
	origin := newFakeOrigin(map[string]string{"fields.yaml": fieldsYAML, "specs.json": specsJSON})
	h := specgraph.NewHandle()
	require.NoError(t, NewLoader(origin).LoadInto(context.Background(), h))
	require.True(t, h.Loaded())
	before := h.Index()

	origin.docs["specs.json"] = []byte("{not json")
	require.Error(t, NewLoader(origin).LoadInto(context.Background(), h))
	assert.Same(t, before, h.Index())
}

func TestParseSniffsFormat(t *testing.T) {
	ds, err := Parse([]byte(specsJSON), "")
	require.NoError(t, err)
	assert.Len(t, ds.Specifications, 2)

	ds, err = Parse([]byte(fieldsYAML), "")
	require.NoError(t, err)
	assert.Len(t, ds.Fields, 2)

	_, err = Parse([]byte("x"), ".toml")
	assert.Error(t, err)
}

func TestCachedSourceReadThrough(t *testing.T) {
	origin := newFakeOrigin(map[string]string{"specs.json": specsJSON})
	src := NewCachedSource(origin, CacheConfig{BlobTTL: time.Minute, BlobMaxEntries: 4, BlobMaxBytes: 1 << 20, ListTTL: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		raw, err := src.Read(ctx, "specs.json")
		require.NoError(t, err)
		assert.Equal(t, specsJSON, string(raw))
		_, err = src.List(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, origin.readCalls)
	assert.Equal(t, 1, origin.listCalls)

	m := src.Metrics()
	assert.Equal(t, uint64(2), m.BlobHits)
	assert.Equal(t, uint64(1), m.BlobMisses)
	assert.Equal(t, uint64(2), m.ListHits)
	assert.Equal(t, uint64(2), m.OriginReads)

	_, err := src.Read(ctx, "missing.json")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, uint64(1), src.Metrics().OriginReadErr)
}

func TestCachedSourceWriteThroughAndInvalidate(t *testing.T) {
	origin := newFakeOrigin(map[string]string{"specs.json": specsJSON})
	src := NewCachedSource(origin, DefaultCacheConfig())
	ctx := context.Background()

	_, err := src.List(ctx)
	require.NoError(t, err)
	require.NoError(t, src.Put(ctx, "fields.yaml", []byte(fieldsYAML)))

	names, err := src.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fields.yaml", "specs.json"}, names)
	raw, err := src.Read(ctx, "fields.yaml")
	require.NoError(t, err)
	assert.Equal(t, fieldsYAML, string(raw))
	assert.Equal(t, 0, origin.readCalls)

	src.Invalidate()
	_, err = src.Read(ctx, "fields.yaml")
	require.NoError(t, err)
	assert.Equal(t, 1, origin.readCalls)
}

func TestCachedSourceRejectsPutOnReadOnlyOrigin(t *testing.T) {
	src := NewCachedSource(readOnly{}, DefaultCacheConfig())
	assert.Error(t, src.Put(context.Background(), "a.json", nil))
}

type readOnly struct{}

func (readOnly) Read(context.Context, string) ([]byte, error) { return nil, ErrNotFound }
func (readOnly) List(context.Context) ([]string, error)       { return nil, nil }
