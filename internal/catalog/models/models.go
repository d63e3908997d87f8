// Package models defines the GORM-mapped catalog entities.
package models

import "time"

// LibrarySource identifies where a Library definition came from.
type LibrarySource string

const (
	// LibrarySourceConf means the library was declared in the TOML
	// config's [[jobs]] section.
	LibrarySourceConf LibrarySource = "conf"
	// LibrarySourceUser means the library was created at runtime
	// (reserved for a future control surface; not produced by this
	// implementation today).
	LibrarySourceUser LibrarySource = "user"
)

// Library is a named input tree, its destination, and the script used
// to transcode files discovered under it.
type Library struct {
	ID            uint   `gorm:"primarykey"`
	Name          string `gorm:"size:255;not null;uniqueIndex:idx_library_name_source"`
	Source        LibrarySource `gorm:"size:32;not null;uniqueIndex:idx_library_name_source"`
	Path          string `gorm:"not null"`
	Destination   string `gorm:"not null"`
	ScriptID      uint   `gorm:"not null"`
	Enabled       bool   `gorm:"not null"`
	LastScannedAt *time.Time

	Script    Script     `gorm:"foreignKey:ScriptID"`
	Variables []Variable `gorm:"foreignKey:LibraryID"`
}

func (Library) TableName() string { return "libraries" }

// Script is a Lua script body, content-hashed so unchanged bodies never
// rewrite the row.
type Script struct {
	ID        uint   `gorm:"primarykey"`
	Name      string `gorm:"size:255;not null;uniqueIndex:idx_script_name_source"`
	Source    string `gorm:"size:32;not null;uniqueIndex:idx_script_name_source"`
	Hash      string `gorm:"size:32;not null"`
	Body      string `gorm:"not null"`
	UpdatedAt time.Time
}

func (Script) TableName() string { return "scripts" }

// Variable is a key/value pair injected into job scripts. A nil
// LibraryID denotes a global variable visible to every library.
type Variable struct {
	ID        uint `gorm:"primarykey"`
	Key       string `gorm:"size:255;not null"`
	Value     *string
	LibraryID *uint `gorm:"index"`
}

func (Variable) TableName() string { return "variables" }

// Worker is a catalog record of a peer that has handshaked at least
// once, upserted on every Hello.
type Worker struct {
	ID         uint      `gorm:"primarykey"`
	Identifier string    `gorm:"size:255;not null;uniqueIndex"`
	LastConnAt *time.Time
}

func (Worker) TableName() string { return "workers" }

// FileEntry is one file discovered by the librarian under a Library.
type FileEntry struct {
	ID           uint   `gorm:"primarykey"`
	LibraryID    uint   `gorm:"not null;uniqueIndex:idx_file_entry_library_path"`
	FilePath     string `gorm:"not null;uniqueIndex:idx_file_entry_library_path"`
	FileSize     int64  `gorm:"not null"`
	Hash         string `gorm:"size:32;not null"`
	DiscoveredAt time.Time
	JobID        *uint `gorm:"index"`

	Library Library `gorm:"foreignKey:LibraryID"`
}

func (FileEntry) TableName() string { return "file_entries" }

// JobStatus is the closed set of states a Job row can be in.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSuccess    JobStatus = "success"
	JobStatusFailure    JobStatus = "failure"
)

// Job is one unit of work binding a discovered file to a script
// execution on a worker.
type Job struct {
	ID            uint      `gorm:"primarykey"`
	FileID        uint      `gorm:"not null;index"`
	WorkerID      *uint     `gorm:"index"`
	Status        JobStatus `gorm:"size:32;not null;index"`
	OutputFile    *string
	OutputSize    *int64
	LogPath       *string
	DispatchToken string `gorm:"size:32;index"` // ULID string (26-char base32) of the in-flight dispatch
	CreatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time

	File FileEntry `gorm:"foreignKey:FileID"`
}

func (Job) TableName() string { return "jobs" }
