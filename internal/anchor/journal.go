package anchor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/coramini/relay-server-go/internal/model"
)

// JournalEntry is the local record of one claimed command. It outlives a
// crash so a result computed before the crash is still reported, and a
// command is never executed twice.
type JournalEntry struct {
	CommandID  string `gorm:"primaryKey"`
	AnchorID   string `gorm:"index"`
	Command    string
	Status     model.CommandStatus `gorm:"index"`
	Result     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Reported   bool `gorm:"index"`
	ReportedAt *time.Time
}

func (JournalEntry) TableName() string {
	return "command_journal"
}

func (e *JournalEntry) ResultJSON() json.RawMessage {
	if e.Result == "" {
		return nil
	}
	return json.RawMessage(e.Result)
}

type Journal struct {
	db *gorm.DB
}

func OpenJournal(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("empty journal path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(15000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        dsn,
	}, &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("journal sql.DB: %w", err)
	}
	// One connection keeps the pragmas in effect and serialises writers.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := db.AutoMigrate(&JournalEntry{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}

	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Begin records that cmd was claimed and is about to run. A second Begin
// for the same command keeps the first entry.
func (j *Journal) Begin(ctx context.Context, cmd model.Command, at time.Time) error {
	entry := JournalEntry{
		CommandID: cmd.ID,
		AnchorID:  cmd.AnchorID,
		Command:   cmd.Command,
		Status:    model.CommandStatusRunning,
		StartedAt: at,
	}
	return j.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entry).Error
}

func (j *Journal) Finish(ctx context.Context, commandID string, status model.CommandStatus, result json.RawMessage, at time.Time) error {
	return j.db.WithContext(ctx).
		Model(&JournalEntry{}).
		Where("command_id = ?", commandID).
		Updates(map[string]any{
			"status":      status,
			"result":      string(result),
			"finished_at": at,
		}).Error
}

func (j *Journal) MarkReported(ctx context.Context, commandID string, at time.Time) error {
	return j.db.WithContext(ctx).
		Model(&JournalEntry{}).
		Where("command_id = ?", commandID).
		Updates(map[string]any{"reported": true, "reported_at": at}).Error
}

// Get returns nil when the command is not in the journal.
func (j *Journal) Get(ctx context.Context, commandID string) (*JournalEntry, error) {
	var entry JournalEntry
	err := j.db.WithContext(ctx).Where("command_id = ?", commandID).Limit(1).Find(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.CommandID == "" {
		return nil, nil
	}
	return &entry, nil
}

// Unreported lists finished entries whose result has not reached the relay,
// oldest first.
func (j *Journal) Unreported(ctx context.Context) ([]JournalEntry, error) {
	var entries []JournalEntry
	err := j.db.WithContext(ctx).
		Where("reported = ? AND status IN ?", false, []model.CommandStatus{model.CommandStatusDone, model.CommandStatusError}).
		Order("started_at ASC").
		Find(&entries).Error
	return entries, err
}

// Interrupted lists entries that were running when the process stopped.
func (j *Journal) Interrupted(ctx context.Context) ([]JournalEntry, error) {
	var entries []JournalEntry
	err := j.db.WithContext(ctx).
		Where("status = ?", model.CommandStatusRunning).
		Order("started_at ASC").
		Find(&entries).Error
	return entries, err
}

// Prune deletes reported entries finished before cutoff.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := j.db.WithContext(ctx).
		Where("reported = ? AND finished_at < ?", true, cutoff).
		Delete(&JournalEntry{})
	return res.RowsAffected, res.Error
}
