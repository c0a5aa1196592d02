package sync

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/sandeepkv93/tasksync/internal/remote"
	"github.com/sandeepkv93/tasksync/internal/storage"
)

// collectionSyncer is one entry of the fixed per-collection sync order.
type collectionSyncer interface {
	name() string
	sync(ctx context.Context, adapter remote.Adapter, res *Result, logger *zap.Logger) error
	bumpAll(ctx context.Context) error
	resetVersions(ctx context.Context) error
}

type collection[T any, P entityPtr[T]] struct {
	repo storage.Repository[T]
	// applied runs after a remote row has been written locally.
	applied func(ctx context.Context, row T) error
}

func (c *collection[T, P]) name() string { return c.repo.Name() }

func (c *collection[T, P]) bumpAll(ctx context.Context) error {
	_, err := c.repo.BumpAll(ctx)
	return err
}

func (c *collection[T, P]) resetVersions(ctx context.Context) error {
	_, err := c.repo.ResetVersions(ctx)
	return err
}

// sync pushes rows the remote lacks or holds at a lower version, then pulls
// rows the local store lacks, holds at a lower version, or holds at the same
// version from another device. A returned error aborts the collection.
func (c *collection[T, P]) sync(ctx context.Context, adapter remote.Adapter, res *Result, logger *zap.Logger) error {
	name := c.name()

	locals, err := c.repo.List(ctx, storage.ListFilter{IncludeDeleted: true})
	if err != nil {
		return fmt.Errorf("list local rows: %w", err)
	}
	docs, err := adapter.GetAllDocuments(ctx, name)
	if err != nil {
		return fmt.Errorf("fetch remote documents: %w", err)
	}

	remotes := make(map[string]T, len(docs))
	for id, raw := range docs {
		row, decodeErr := decodeDocument[T, P](id, raw)
		if decodeErr != nil {
			res.addEntityError(name, id, OpDecode, decodeErr)
			continue
		}
		remotes[id] = row
	}

	localByID := make(map[string]T, len(locals))
	for i := range locals {
		local := locals[i]
		meta := P(&local).Meta()
		localByID[meta.ID] = local

		if r, ok := remotes[meta.ID]; ok && meta.SyncVersion <= P(&r).Meta().SyncVersion {
			continue
		}
		body, encErr := encodeDocument[T, P](&local)
		if encErr != nil {
			res.addEntityError(name, meta.ID, OpPush, encErr)
			continue
		}
		if setErr := adapter.SetDocument(ctx, name, meta.ID, body); setErr != nil {
			res.addEntityError(name, meta.ID, OpPush, setErr)
			continue
		}
		res.Pushed++
	}

	ids := make([]string, 0, len(remotes))
	for id := range remotes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		remoteRow := remotes[id]
		rm := P(&remoteRow).Meta()

		local, ok := localByID[id]
		if !ok {
			if createErr := c.repo.Create(ctx, remoteRow); createErr != nil {
				res.addEntityError(name, id, OpPull, createErr)
				continue
			}
			res.Pulled++
			c.afterApply(ctx, name, remoteRow, res)
			continue
		}

		lm := P(&local).Meta()
		switch {
		case rm.SyncVersion > lm.SyncVersion:
			if writeErr := c.repo.Overwrite(ctx, remoteRow, lm.SyncVersion); writeErr != nil {
				res.addEntityError(name, id, OpPull, writeErr)
				continue
			}
			res.Pulled++
			c.afterApply(ctx, name, remoteRow, res)

		case rm.SyncVersion == lm.SyncVersion && rm.DeviceID != lm.DeviceID:
			res.Conflicts++
			winner := local
			if remoteWins(lm.UpdatedAt, lm.DeviceID, rm.UpdatedAt, rm.DeviceID) {
				winner = remoteRow
			}
			// The settled value is written one version above the tie so the
			// next pass pushes it to every other device.
			P(&winner).Meta().SyncVersion = lm.SyncVersion + 1
			if writeErr := c.repo.Overwrite(ctx, winner, lm.SyncVersion); writeErr != nil {
				res.addEntityError(name, id, OpMerge, writeErr)
				continue
			}
			logger.Debug("resolved equal-version conflict",
				zap.String("collection", name),
				zap.String("id", id),
				zap.String("winner_device", P(&winner).Meta().DeviceID),
			)
			c.afterApply(ctx, name, winner, res)
		}
	}
	return nil
}

func (c *collection[T, P]) afterApply(ctx context.Context, name string, row T, res *Result) {
	if c.applied == nil {
		return
	}
	if err := c.applied(ctx, row); err != nil {
		res.addEntityError(name, P(&row).Meta().ID, OpApply, err)
	}
}
