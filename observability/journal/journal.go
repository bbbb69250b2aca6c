package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"slimhogs/core/events"
)

// Entry is one persisted registry or token event.
type Entry struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Type        string    `gorm:"index"`
	Fingerprint string    `gorm:"index"`
	Attributes  string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"index"`
	// Seq orders entries written within the same clock tick.
	Seq int64 `gorm:"index"`
}

// Decode returns the event attributes.
func (e Entry) Decode() (map[string]string, error) {
	attrs := map[string]string{}
	if strings.TrimSpace(e.Attributes) == "" {
		return attrs, nil
	}
	if err := json.Unmarshal([]byte(e.Attributes), &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

// AutoMigrate performs all schema migrations for the journal.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Entry{})
}

// Open connects to dsn. postgres:// URLs and key=value DSNs use Postgres;
// anything else is treated as a SQLite path or URI.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("journal: dsn required")
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.Contains(dsn, "host="):
		dialector = postgres.Open(dsn)
	default:
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return db, nil
}

// Journal appends every emitted event to the database. It is an
// events.Emitter; write failures are logged and never reach the emitter.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time
	seq    atomic.Int64
}

func New(db *gorm.DB, log *slog.Logger) *Journal {
	if log == nil {
		log = slog.Default()
	}
	j := &Journal{db: db, logger: log, nowFn: time.Now}
	if db != nil {
		var last int64
		if err := db.Model(&Entry{}).Select("COALESCE(MAX(seq), 0)").Scan(&last).Error; err == nil {
			j.seq.Store(last)
		}
	}
	return j
}

// Emit implements events.Emitter.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || j.db == nil || evt == nil {
		return
	}
	if err := j.Append(context.Background(), evt); err != nil {
		j.logger.Warn("journal append failed", "type", evt.EventType(), "error", err)
	}
}

// Append persists evt.
func (j *Journal) Append(ctx context.Context, evt events.Event) error {
	payload := evt.Event()
	if payload == nil {
		return fmt.Errorf("journal: event %s has no payload", evt.EventType())
	}
	attrs, err := json.Marshal(payload.Attributes)
	if err != nil {
		return err
	}
	entry := Entry{
		ID:          uuid.New(),
		Type:        payload.Type,
		Fingerprint: payload.Attributes["id"],
		Attributes:  string(attrs),
		CreatedAt:   j.nowFn().UTC(),
		Seq:         j.seq.Add(1),
	}
	return j.db.WithContext(ctx).Create(&entry).Error
}

// History returns the events recorded for a fingerprint, oldest first.
func (j *Journal) History(ctx context.Context, fingerprint string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	var entries []Entry
	err := j.db.WithContext(ctx).
		Where("fingerprint = ?", fingerprint).
		Order("created_at ASC, seq ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// Recent returns the newest entries of the given type, or of any type when
// typ is empty.
func (j *Journal) Recent(ctx context.Context, typ string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := j.db.WithContext(ctx).Order("created_at DESC, seq DESC").Limit(limit)
	if typ != "" {
		query = query.Where("type = ?", typ)
	}
	var entries []Entry
	err := query.Find(&entries).Error
	return entries, err
}
