package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMissingID       = errors.New("model: id is required")
	ErrNegativeVersion = errors.New("model: sync_version must not be negative")
)

// SyncMeta is the bookkeeping every synchronized row carries. SyncVersion is
// the merge key: it grows by exactly one per local mutation and is never
// lowered by a merge.
type SyncMeta struct {
	ID          string     `json:"id"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
	DeviceID    string     `json:"deviceId"`
	SyncVersion int64      `json:"syncVersion"`
}

// Versioned is implemented by pointers to every synchronized entity.
type Versioned interface {
	Meta() *SyncMeta
	Validate() error
}

func (m *SyncMeta) Meta() *SyncMeta { return m }

func (m SyncMeta) IsDeleted() bool { return m.DeletedAt != nil }

// Touch records a local mutation made by device at now.
func (m *SyncMeta) Touch(device string, now time.Time) {
	m.SyncVersion++
	m.UpdatedAt = now.UTC()
	m.DeviceID = device
}

func (m SyncMeta) validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return ErrMissingID
	}
	if m.SyncVersion < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeVersion, m.SyncVersion)
	}
	return nil
}
