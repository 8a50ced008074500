package audit

import (
	"time"

	"github.com/BaSui01/dynconf/types"
)

// ReloadRecord 一次重载尝试的持久化记录
type ReloadRecord struct {
	ID          uint      `gorm:"primaryKey"`
	AttemptID   string    `gorm:"size:64;index"`
	Source      string    `gorm:"size:32;index"`
	Outcome     string    `gorm:"size:64;index"`
	Generation  uint64    `gorm:"index"`
	Checksum    string    `gorm:"size:64"`
	Reason      string    `gorm:"type:text"`
	RemoteAddr  string    `gorm:"size:64"`
	DurationUS  int64     `gorm:"column:duration_us"`
	AttemptedAt time.Time `gorm:"index"`
	CreatedAt   time.Time
}

// TableName 固定表名
func (ReloadRecord) TableName() string { return "reload_records" }

func recordOf(a types.ReloadAttempt) ReloadRecord {
	return ReloadRecord{
		AttemptID:   a.ID,
		Source:      string(a.Source),
		Outcome:     a.Outcome,
		Generation:  a.Generation,
		Checksum:    a.Checksum,
		Reason:      a.Reason,
		RemoteAddr:  a.RemoteAddr,
		DurationUS:  a.Duration.Microseconds(),
		AttemptedAt: a.Timestamp,
	}
}

// Attempt 转换回重载尝试
func (r ReloadRecord) Attempt() types.ReloadAttempt {
	return types.ReloadAttempt{
		ID:         r.AttemptID,
		Source:     types.ReloadSource(r.Source),
		Outcome:    r.Outcome,
		Generation: r.Generation,
		Checksum:   r.Checksum,
		Reason:     r.Reason,
		RemoteAddr: r.RemoteAddr,
		Duration:   time.Duration(r.DurationUS) * time.Microsecond,
		Timestamp:  r.AttemptedAt,
	}
}
