// Package dataset loads the specification catalog from a blob origin (local
// directory, Postgres table or S3 bucket) and publishes the built index to a
// specgraph.Handle.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Source is a named-document origin for dataset files.
type Source interface {
	Read(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context) ([]string, error)
}

// Writer is implemented by sources that accept uploads.
type Writer interface {
	Put(ctx context.Context, name string, content []byte) error
}

var ErrNotFound = errors.New("dataset document not found")

// documentExt reports whether name has an extension the loader can parse.
func documentExt(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func cleanName(name string) (string, error) {
	name = strings.TrimLeft(strings.TrimSpace(name), "/")
	if name == "" {
		return "", fmt.Errorf("document name is required")
	}
	if strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid document name: %s", name)
	}
	return name, nil
}
