package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sandeepkv93/tasksync/internal/model"
)

// Fixed width so that stored timestamps compare correctly as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteRepository is the device-local store: one Collection per synchronized
// table plus the delivery queue and the settings/cursor singletons.
type SQLiteRepository struct {
	db *sql.DB

	Projects  *Collection[model.Project, *model.Project]
	Tags      *Collection[model.Tag, *model.Tag]
	Contacts  *Collection[model.Contact, *model.Contact]
	Locations *Collection[model.Location, *model.Location]
	Tasks     *Collection[model.Task, *model.Task]
	Reminders *Collection[model.Reminder, *model.Reminder]

	Notifications *NotificationStore
	State         *StateStore
}

func NewSQLiteRepository(db *sql.DB) (*SQLiteRepository, error) {
	if db == nil {
		return nil, errors.New("storage: nil db")
	}
	// A single connection serializes every statement, which the queue's
	// conditional claims rely on.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return &SQLiteRepository{
		db:        db,
		Projects:  NewCollection[model.Project](db, TableProjects, nil),
		Tags:      NewCollection[model.Tag](db, TableTags, nil),
		Contacts:  NewCollection[model.Contact](db, TableContacts, nil),
		Locations: NewCollection[model.Location](db, TableLocations, nil),
		Tasks:     NewCollection[model.Task](db, TableTasks, nil),
		Reminders: NewCollection[model.Reminder](db, TableReminders, func(r *model.Reminder) string {
			return r.TaskID
		}),
		Notifications: &NotificationStore{db: db},
		State:         &StateStore{db: db},
	}, nil
}

// OpenSQLite opens (creating if needed) the database at path and applies
// migrations.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	repo, err := NewSQLiteRepository(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := MigrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// CountChangedSince sums, over every synchronized table, the rows last
// written by device whose updated_at is after since. An empty device matches
// every writer and a nil since matches every row.
func (r *SQLiteRepository) CountChangedSince(ctx context.Context, device string, since *time.Time) (int, error) {
	counters := []interface {
		CountChangedSince(context.Context, string, *time.Time) (int, error)
	}{r.Projects, r.Tags, r.Contacts, r.Locations, r.Tasks, r.Reminders}
	total := 0
	for _, c := range counters {
		n, err := c.CountChangedSince(ctx, device, since)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC().Format(sqliteTimeLayout)
}

func mustTime(v time.Time) string {
	return v.UTC().Format(sqliteTimeLayout)
}

func parseNullableTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	tm, err := time.Parse(sqliteTimeLayout, v.String)
	if err != nil {
		return nil, err
	}
	return &tm, nil
}

func parseRequiredTime(v string) (time.Time, error) {
	return time.Parse(sqliteTimeLayout, v)
}

func applyPagination(args *[]any, limit, offset int) string {
	sql := ""
	if limit > 0 {
		sql += " LIMIT ?"
		*args = append(*args, limit)
	} else if offset > 0 {
		sql += " LIMIT -1"
	}
	if offset > 0 {
		sql += " OFFSET ?"
		*args = append(*args, offset)
	}
	return sql
}

type scanner interface {
	Scan(dest ...any) error
}

func rowsAffected(res sql.Result) (int64, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return affected, nil
}
