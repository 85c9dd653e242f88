package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"respec/internal/specgraph"
	"respec/internal/types/catalog"
)

const defaultParallel = 4

// Loader reads every dataset document from a Source, merges them into one
// catalog and builds the specification index.
type Loader struct {
	src      Source
	parallel int
	index    []specgraph.Option
}

type LoaderOption func(*Loader)

// WithParallel bounds concurrent document reads.
func WithParallel(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.parallel = n
		}
	}
}

// WithIndexOptions forwards options to specgraph.Build.
func WithIndexOptions(opts ...specgraph.Option) LoaderOption {
	return func(l *Loader) { l.index = append(l.index, opts...) }
}

func NewLoader(src Source, opts ...LoaderOption) *Loader {
	l := &Loader{src: src, parallel: defaultParallel}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dataset reads and merges the named documents, or every document the
// source lists when names is empty. Documents merge in name order.
func (l *Loader) Dataset(ctx context.Context, names ...string) (*catalog.Dataset, error) {
	if l == nil || l.src == nil {
		return nil, fmt.Errorf("dataset loader has no source")
	}
	if len(names) == 0 {
		listed, err := l.src.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list dataset documents: %w", err)
		}
		names = listed
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no dataset documents", ErrNotFound)
	}

	docs := make([]*catalog.Dataset, len(names))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(l.parallel)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			raw, err := l.src.Read(gCtx, name)
			if err != nil {
				return fmt.Errorf("read %s: %w", name, err)
			}
			doc, err := Parse(raw, path.Ext(name))
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	merged := Merge(docs...)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// Load builds the index from the source.
func (l *Loader) Load(ctx context.Context, names ...string) (*specgraph.Index, error) {
	ds, err := l.Dataset(ctx, names...)
	if err != nil {
		return nil, err
	}
	idx, err := specgraph.Build(ds, l.index...)
	if err != nil {
		return nil, err
	}
	log.Printf("dataset: loaded version=%q specifications=%d fields=%d exclusions=%d",
		ds.Version, len(ds.Specifications), len(ds.Fields), len(ds.Exclusions))
	return idx, nil
}

// LoadInto builds the index and publishes it to h. A failed load leaves the
// previously published index in place.
func (l *Loader) LoadInto(ctx context.Context, h *specgraph.Handle) error {
	idx, err := l.Load(ctx)
	if err != nil {
		return err
	}
	h.Publish(idx)
	return nil
}

// Parse decodes one document. ext selects the format; an unknown extension
// is sniffed from the content.
func Parse(data []byte, ext string) (*catalog.Dataset, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
			ext = ".json"
		} else {
			ext = ".yaml"
		}
	}
	var ds catalog.Dataset
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &ds); err != nil {
			return nil, fmt.Errorf("parse dataset json: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &ds); err != nil {
			return nil, fmt.Errorf("parse dataset yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported dataset format %q", ext)
	}
	return &ds, nil
}

// Merge concatenates documents. The first non-empty version wins.
func Merge(docs ...*catalog.Dataset) *catalog.Dataset {
	out := &catalog.Dataset{}
	for _, d := range docs {
		if d == nil {
			continue
		}
		if out.Version == "" {
			out.Version = strings.TrimSpace(d.Version)
		}
		out.Specifications = append(out.Specifications, d.Specifications...)
		out.Exclusions = append(out.Exclusions, d.Exclusions...)
		out.Fields = append(out.Fields, d.Fields...)
	}
	return out
}
