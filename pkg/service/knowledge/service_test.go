package knowledge_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/m-mizutani/atlas/pkg/model"
	"github.com/m-mizutani/atlas/pkg/service/knowledge"
)

// memStore is an in-memory repository.Store for service tests.
type memStore struct {
	items  []model.MemoryItem
	nextID int64
}

func (x *memStore) Insert(_ context.Context, content string, metadata map[string]any) (int64, error) {
	x.nextID++
	x.items = append(x.items, model.MemoryItem{
		ID:        x.nextID,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	})
	return x.nextID, nil
}

func (x *memStore) ExistsByMetadata(_ context.Context, key, value string) (bool, error) {
	for _, item := range x.items {
		if v, ok := item.Metadata[key]; ok && v == value {
			return true, nil
		}
	}
	return false, nil
}

func (x *memStore) Search(_ context.Context, query string, limit int, _ bool) ([]model.MemoryHit, error) {
	var hits []model.MemoryHit
	for _, item := range x.items {
		if strings.Contains(strings.ToLower(item.Content), strings.ToLower(query)) {
			hits = append(hits, model.MemoryHit{MemoryItem: item, Score: 1})
		}
		if limit > 0 && len(hits) >= limit {
			break
		}
	}
	return hits, nil
}

func (x *memStore) Delete(_ context.Context, id int64) error {
	for i, item := range x.items {
		if item.ID == id {
			x.items = append(x.items[:i], x.items[i+1:]...)
			return nil
		}
	}
	return nil
}

func TestInsertSkipIfExists(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	svc, err := knowledge.New(ctx, store)
	gt.NoError(t, err)

	id, inserted, err := svc.Insert(ctx, knowledge.InsertInput{
		Content:      "postgres tuning notes",
		Name:         "pg-notes",
		SkipIfExists: true,
	})
	gt.NoError(t, err)
	gt.True(t, inserted)
	gt.Equal(t, id, int64(1))

	_, inserted, err = svc.Insert(ctx, knowledge.InsertInput{
		Content:      "different content, same name",
		Name:         "pg-notes",
		SkipIfExists: true,
	})
	gt.NoError(t, err)
	gt.False(t, inserted)
	gt.A(t, store.items).Length(1)
}

func TestInsertWithoutSkipDuplicates(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	svc, err := knowledge.New(ctx, store)
	gt.NoError(t, err)

	for range 2 {
		_, inserted, err := svc.Insert(ctx, knowledge.InsertInput{
			Content: "the same note",
			Name:    "dup",
		})
		gt.NoError(t, err)
		gt.True(t, inserted)
	}
	gt.A(t, store.items).Length(2)
}

func TestLoadDirectory(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	svc, err := knowledge.New(ctx, store)
	gt.NoError(t, err)

	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("alpha doc"), 0644))
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(`{"k":"v"}`), 0644))
	gt.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.md"), []byte("hidden"), 0644))
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "c.yaml"), []byte("skipped: ext"), 0644))
	gt.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "d.txt"), []byte("delta doc"), 0644))

	inserted, err := svc.LoadDirectory(ctx, dir)
	gt.NoError(t, err)
	gt.Equal(t, inserted, 3)

	exists, err := store.ExistsByMetadata(ctx, "name", "a")
	gt.NoError(t, err)
	gt.True(t, exists)

	exists, err = store.ExistsByMetadata(ctx, "name", ".hidden")
	gt.NoError(t, err)
	gt.False(t, exists)

	exists, err = store.ExistsByMetadata(ctx, "name", "c")
	gt.NoError(t, err)
	gt.False(t, exists)

	// Second run skips everything already loaded
	inserted, err = svc.LoadDirectory(ctx, dir)
	gt.NoError(t, err)
	gt.Equal(t, inserted, 0)
}

func TestLoadDirectoryWithPolicy(t *testing.T) {
	ctx := context.Background()

	policyDir := t.TempDir()
	policy := `package knowledge

ingest := {"allow": false} if {
	input.filename == "secret.md"
}
`
	gt.NoError(t, os.WriteFile(filepath.Join(policyDir, "ingest.rego"), []byte(policy), 0644))

	store := &memStore{}
	svc, err := knowledge.New(ctx, store, knowledge.WithPolicyDir(policyDir))
	gt.NoError(t, err)

	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "public.md"), []byte("public doc"), 0644))
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "secret.md"), []byte("secret doc"), 0644))

	inserted, err := svc.LoadDirectory(ctx, dir)
	gt.NoError(t, err)
	gt.Equal(t, inserted, 1)

	exists, err := store.ExistsByMetadata(ctx, "name", "secret")
	gt.NoError(t, err)
	gt.False(t, exists)
}

func TestLoadDirectoryPolicyMetadata(t *testing.T) {
	ctx := context.Background()

	policyDir := t.TempDir()
	policy := `package knowledge

ingest := {"allow": true, "metadata": {"team": "data"}} if {
	endswith(input.filename, ".md")
}
`
	gt.NoError(t, os.WriteFile(filepath.Join(policyDir, "ingest.rego"), []byte(policy), 0644))

	store := &memStore{}
	svc, err := knowledge.New(ctx, store, knowledge.WithPolicyDir(policyDir))
	gt.NoError(t, err)

	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "doc.md"), []byte("tagged doc"), 0644))

	inserted, err := svc.LoadDirectory(ctx, dir)
	gt.NoError(t, err)
	gt.Equal(t, inserted, 1)
	gt.Equal(t, store.items[0].Metadata["team"], "data")
}

func TestLoadJSON(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	svc, err := knowledge.New(ctx, store)
	gt.NoError(t, err)

	payload := map[string]any{"service": "atlas", "replicas": 3}
	_, inserted, err := svc.LoadJSON(ctx, payload, "deploy-config")
	gt.NoError(t, err)
	gt.True(t, inserted)
	gt.True(t, strings.Contains(store.items[0].Content, `"service": "atlas"`))
	gt.Equal(t, store.items[0].Metadata["type"], "json")

	_, inserted, err = svc.LoadJSON(ctx, payload, "deploy-config")
	gt.NoError(t, err)
	gt.False(t, inserted)
}
