package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"respec/internal/dataset"
	"respec/internal/specgraph"
	"respec/internal/types/catalog"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file|dir>...",
	Short: "Check dataset documents without starting the server",
	Long:  "Parses, merges and indexes the given documents (or every document below a\ndirectory) and prints a summary.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var docs []*catalogDoc
		for _, arg := range args {
			found, err := readDocs(arg)
			if err != nil {
				return err
			}
			docs = append(docs, found...)
		}
		parsed := make([]*catalog.Dataset, 0, len(docs))
		for _, d := range docs {
			ds, err := dataset.Parse(d.data, filepath.Ext(d.path))
			if err != nil {
				return fmt.Errorf("%s: %w", d.path, err)
			}
			parsed = append(parsed, ds)
		}
		merged := dataset.Merge(parsed...)
		idx, err := specgraph.Build(merged)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok: %d documents, %d specifications, %d fields, %d exclusions\n",
			len(docs), idx.Len(), len(merged.Fields), len(merged.Exclusions))
		return nil
	},
}

type catalogDoc struct {
	path string
	data []byte
}

func readDocs(root string) ([]*catalogDoc, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		data, err := os.ReadFile(root)
		if err != nil {
			return nil, err
		}
		return []*catalogDoc{{path: root, data: data}}, nil
	}
	src := dataset.NewDiskSource(root)
	names, err := src.List(context.Background())
	if err != nil {
		return nil, err
	}
	out := make([]*catalogDoc, 0, len(names))
	for _, name := range names {
		data, err := src.Read(context.Background(), name)
		if err != nil {
			return nil, err
		}
		out = append(out, &catalogDoc{path: filepath.Join(root, name), data: data})
	}
	return out, nil
}
