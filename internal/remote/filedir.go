package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// FileDir stores documents as <root>/<collection>/<id>.json. Pointing several
// installs at one synced folder gives them a shared remote store.
type FileDir struct {
	root string
}

func NewFileDir(root string) (*FileDir, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("remote: shared directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create shared directory: %w", err)
	}
	return &FileDir{root: root}, nil
}

func (d *FileDir) Root() string { return d.root }

func (d *FileDir) Ping(context.Context) error {
	info, err := os.Stat(d.root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrUnavailable, d.root)
	}
	return nil
}

func (d *FileDir) GetAllDocuments(ctx context.Context, collection string) (map[string][]byte, error) {
	dir := d.collectionDir(collection)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]byte{}, nil
		}
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %s/%s: %w", collection, name, err)
		}
		out[strings.TrimSuffix(name, ".json")] = raw
	}
	return out, nil
}

func (d *FileDir) SetDocument(_ context.Context, collection, id string, doc []byte) error {
	if unsafeName.MatchString(id) || id == "" {
		return fmt.Errorf("remote: invalid document id %q", id)
	}
	dir := d.collectionDir(collection)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, id+".json")
	tmp, err := os.CreateTemp(dir, "."+id+"-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(doc); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (d *FileDir) DeleteDocument(_ context.Context, collection, id string) error {
	err := os.Remove(filepath.Join(d.collectionDir(collection), id+".json"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (d *FileDir) collectionDir(collection string) string {
	return filepath.Join(d.root, unsafeName.ReplaceAllString(collection, "_"))
}
