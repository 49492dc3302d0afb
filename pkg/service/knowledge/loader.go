package knowledge

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/atlas/pkg/utils/logging"
)

// loadableExts are the file types LoadDirectory ingests.
var loadableExts = map[string]bool{
	".json": true,
	".sql":  true,
	".md":   true,
	".txt":  true,
}

// LoadDirectory walks dir in lexical order and ingests every loadable
// file. Hidden files and directories are skipped, existing documents
// (by name) are skipped, and the ingest policy may veto a file or
// attach extra metadata. Returns the number of documents inserted.
func (x *Service) LoadDirectory(ctx context.Context, dir string) (int, error) {
	logger := logging.From(ctx)
	inserted := 0

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !loadableExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return goerr.Wrap(err, "failed to read file", goerr.V("path", path))
		}

		filename := d.Name()
		name := strings.TrimSuffix(filename, filepath.Ext(filename))

		decision, err := x.policy.evaluate(ctx, map[string]any{
			"filename": filename,
			"source":   path,
			"content":  string(data),
		})
		if err != nil {
			return err
		}
		if !decision.Allow {
			logger.Info("document rejected by ingest policy", "path", path)
			return nil
		}

		metadata := map[string]any{
			"source":   path,
			"filename": filename,
		}
		for k, v := range decision.Metadata {
			metadata[k] = v
		}

		_, ok, err := x.Insert(ctx, InsertInput{
			Content:      string(data),
			Metadata:     metadata,
			Name:         name,
			SkipIfExists: true,
		})
		if err != nil {
			return err
		}
		if ok {
			logger.Info("loaded document", "name", name, "path", path)
			inserted++
		} else {
			logger.Debug("document already exists, skipped", "name", name)
		}

		return nil
	})
	if err != nil {
		return inserted, goerr.Wrap(err, "failed to load directory", goerr.V("dir", dir))
	}

	return inserted, nil
}

// LoadJSON ingests an arbitrary JSON payload as one pretty-printed
// document, skipping when a document with the name already exists.
func (x *Service) LoadJSON(ctx context.Context, payload any, name string) (int64, bool, error) {
	content, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return 0, false, goerr.Wrap(err, "failed to marshal payload")
	}

	return x.Insert(ctx, InsertInput{
		Content:      string(content),
		Metadata:     map[string]any{"type": "json"},
		Name:         name,
		SkipIfExists: true,
	})
}
