package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Match is one finished session's result row.
type Match struct {
	ID       string `gorm:"primaryKey"`
	LobbyID  string `gorm:"index"`
	WinnerID string `gorm:"index"`
	LoserID  string `gorm:"index"`
	EndedAt  time.Time
}

// GormRecorder writes match results to postgres. It satisfies
// lobby.Recorder; the session core never sees gorm.
type GormRecorder struct {
	db *gorm.DB
}

func NewGormRecorder(dsn string) (*GormRecorder, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Match{}); err != nil {
		return nil, err
	}
	return &GormRecorder{db: db}, nil
}

func (r *GormRecorder) RecordMatch(ctx context.Context, winnerID, loserID, lobbyID string) error {
	return r.db.WithContext(ctx).Create(&Match{
		ID:       uuid.NewString(),
		LobbyID:  lobbyID,
		WinnerID: winnerID,
		LoserID:  loserID,
		EndedAt:  time.Now(),
	}).Error
}

// NoopRecorder drops results; used when no DSN is configured.
type NoopRecorder struct{}

func (NoopRecorder) RecordMatch(context.Context, string, string, string) error { return nil }
