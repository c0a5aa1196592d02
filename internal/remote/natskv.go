package remote

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

var bucketUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

type NATSOptions struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DialNATS connects with reconnect settings suited to a long-running daemon.
func DialNATS(opts NATSOptions) (*nats.Conn, error) {
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = 5
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = time.Second
	}
	nc, err := nats.Connect(opts.URL,
		nats.Name("taskd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", opts.URL, err)
	}
	return nc, nil
}

// NATSKV stores each collection in its own JetStream key-value bucket,
// namespaced by account.
type NATSKV struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	prefix string

	mu      sync.Mutex
	buckets map[string]nats.KeyValue
}

func NewNATSKV(nc *nats.Conn, account string) (*NATSKV, error) {
	if nc == nil {
		return nil, errors.New("remote: nil NATS connection")
	}
	if account == "" {
		return nil, errors.New("remote: account is required")
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return &NATSKV{
		nc:      nc,
		js:      js,
		prefix:  "taskd_" + bucketUnsafe.ReplaceAllString(account, "_"),
		buckets: map[string]nats.KeyValue{},
	}, nil
}

func (a *NATSKV) Ping(ctx context.Context) error {
	if !a.nc.IsConnected() {
		return fmt.Errorf("%w: NATS status %s", ErrUnavailable, a.nc.Status())
	}
	if err := a.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (a *NATSKV) GetAllDocuments(ctx context.Context, collection string) (map[string][]byte, error) {
	kv, err := a.bucket(collection)
	if err != nil {
		return nil, err
	}
	keys, err := kv.Keys(nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return map[string][]byte{}, nil
		}
		return nil, fmt.Errorf("list %s keys: %w", collection, err)
	}
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		entry, err := kv.Get(key)
		if err != nil {
			if errors.Is(err, nats.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("get %s/%s: %w", collection, key, err)
		}
		out[key] = entry.Value()
	}
	return out, nil
}

func (a *NATSKV) SetDocument(_ context.Context, collection, id string, doc []byte) error {
	kv, err := a.bucket(collection)
	if err != nil {
		return err
	}
	if _, err := kv.Put(id, doc); err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, id, err)
	}
	return nil
}

func (a *NATSKV) DeleteDocument(_ context.Context, collection, id string) error {
	kv, err := a.bucket(collection)
	if err != nil {
		return err
	}
	if err := kv.Delete(id); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (a *NATSKV) bucket(collection string) (nats.KeyValue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if kv, ok := a.buckets[collection]; ok {
		return kv, nil
	}
	kv, err := openBucket(a.js, a.prefix+"_"+bucketUnsafe.ReplaceAllString(collection, "_"), 1)
	if err != nil {
		return nil, err
	}
	a.buckets[collection] = kv
	return kv, nil
}

func openBucket(js nats.JetStreamContext, name string, history uint8) (nats.KeyValue, error) {
	kv, err := js.KeyValue(name)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, nats.ErrBucketNotFound) {
		return nil, fmt.Errorf("open bucket %s: %w", name, err)
	}
	kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: name, History: history})
	if err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", name, err)
	}
	return kv, nil
}

// NATSFence implements Fence with compare-and-set on a KV bucket. The token
// is the KV revision written by the winning Create or Update.
type NATSFence struct {
	kv  nats.KeyValue
	now func() time.Time
}

func NewNATSFence(nc *nats.Conn, account string, now func() time.Time) (*NATSFence, error) {
	if nc == nil {
		return nil, errors.New("remote: nil NATS connection")
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	kv, err := openBucket(js, "taskd_"+bucketUnsafe.ReplaceAllString(account, "_")+"_fences", 1)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &NATSFence{kv: kv, now: now}, nil
}

func (f *NATSFence) Acquire(_ context.Context, key, owner string, ttl time.Duration) (uint64, error) {
	now := f.now()
	payload, err := encodeLease(lease{Owner: owner, ExpiresAt: now.Add(ttl)})
	if err != nil {
		return 0, err
	}

	entry, err := f.kv.Get(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		rev, createErr := f.kv.Create(key, payload)
		if createErr != nil {
			if isRevisionMismatch(createErr) {
				return 0, fmt.Errorf("%w: %s", ErrFenceHeld, key)
			}
			return 0, fmt.Errorf("%w: create fence %s: %v", ErrUnavailable, key, createErr)
		}
		return rev, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read fence %s: %v", ErrUnavailable, key, err)
	}

	cur, err := decodeLease(entry.Value())
	if err != nil {
		return 0, err
	}
	if cur.heldByOther(owner, now) {
		return 0, fmt.Errorf("%w: %s by %s", ErrFenceHeld, key, cur.Owner)
	}
	rev, err := f.kv.Update(key, payload, entry.Revision())
	if err != nil {
		if isRevisionMismatch(err) {
			return 0, fmt.Errorf("%w: %s", ErrFenceHeld, key)
		}
		return 0, fmt.Errorf("%w: update fence %s: %v", ErrUnavailable, key, err)
	}
	return rev, nil
}

func (f *NATSFence) Release(_ context.Context, key string, token uint64) error {
	if err := f.kv.Delete(key, nats.LastRevision(token)); err != nil {
		if isRevisionMismatch(err) {
			return fmt.Errorf("%w: %s token %d", ErrFenceHeld, key, token)
		}
		return fmt.Errorf("%w: release fence %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func isRevisionMismatch(err error) bool {
	if errors.Is(err, nats.ErrKeyExists) {
		return true
	}
	var apiErr *nats.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence
}
