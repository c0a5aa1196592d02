package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const lockRetryDelay = 50 * time.Millisecond

var ErrEmptyPath = errors.New("device: identity path is required")

type identityFile struct {
	DeviceID  string    `json:"device_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity resolves the install's device id. The id is generated once,
// persisted next to the database, and cached after the first read.
type Identity struct {
	path string

	mu sync.Mutex
	id string
}

func NewIdentity(path string) *Identity {
	return &Identity{path: strings.TrimSpace(path)}
}

func (i *Identity) Path() string { return i.path }

// ID returns the device id, creating it on first use. Concurrent processes
// serialize on a lock file so they agree on a single id.
func (i *Identity) ID(ctx context.Context) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.id != "" {
		return i.id, nil
	}
	if i.path == "" {
		return "", ErrEmptyPath
	}
	if err := os.MkdirAll(filepath.Dir(i.path), 0o700); err != nil {
		return "", fmt.Errorf("device: create dir: %w", err)
	}

	lock := flock.New(i.path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return "", fmt.Errorf("device: acquire lock: %w", err)
	}
	if !locked {
		return "", errors.New("device: identity file is locked")
	}
	defer func() { _ = lock.Unlock() }()

	id, err := read(i.path)
	if err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.NewString()
		if err := write(i.path, identityFile{DeviceID: id, CreatedAt: time.Now().UTC()}); err != nil {
			return "", err
		}
	}
	i.id = id
	return id, nil
}

func read(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("device: read identity: %w", err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return "", nil
	}
	var f identityFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", fmt.Errorf("device: decode identity: %w", err)
	}
	return strings.TrimSpace(f.DeviceID), nil
}

func write(path string, f identityFile) error {
	payload, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(payload, '\n'), 0o600); err != nil {
		return fmt.Errorf("device: write identity: %w", err)
	}
	return os.Rename(tmp, path)
}
