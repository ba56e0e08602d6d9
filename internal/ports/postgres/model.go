package postgres

import (
	"time"

	"gorm.io/datatypes"
)

// GameDocument is one game stored as a JSONB document. Version starts at the
// creation time in nanoseconds, increases by one on every write and is the
// optimistic concurrency token.
type GameDocument struct {
	ID        string         `gorm:"primaryKey;size:16"`
	Data      datatypes.JSON `gorm:"type:jsonb;not null"`
	Version   int64          `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

// TableName pins the table name independent of gorm's pluralization.
func (GameDocument) TableName() string {
	return "offbeat_game_documents"
}
