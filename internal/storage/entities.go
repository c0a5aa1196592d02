package storage

import "time"

// Table names double as remote collection names.
const (
	TableProjects  = "projects"
	TableTags      = "tags"
	TableContacts  = "contacts"
	TableLocations = "locations"
	TableTasks     = "tasks"
	TableReminders = "reminders"
)

// SyncOrder lists the synchronized tables parents first.
var SyncOrder = []string{TableProjects, TableTags, TableContacts, TableLocations, TableTasks, TableReminders}

type ListFilter struct {
	ParentID       string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

type Settings struct {
	LastSyncAt *time.Time
}

type SyncCursor struct {
	LastPulledAt *time.Time
	LastPushedAt *time.Time
}
