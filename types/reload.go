package types

import "time"

// ReloadSource 触发重载的来源
type ReloadSource string

const (
	SourceBootstrap ReloadSource = "bootstrap"
	SourceHTTP      ReloadSource = "http"
	SourceFile      ReloadSource = "file"
	SourceSignal    ReloadSource = "signal"
	SourceRollback  ReloadSource = "rollback"
)

// OutcomeApplied 成功发布时的 Outcome，失败时 Outcome 为错误码
const OutcomeApplied = "applied"

// ConfigInfo 已发布配置的元数据
type ConfigInfo struct {
	Generation uint64       `json:"generation"`
	Checksum   string       `json:"checksum"`
	Source     ReloadSource `json:"source"`
	AppliedAt  time.Time    `json:"applied_at"`
	AttemptID  string       `json:"attempt_id"`
	Ports      []int        `json:"ports"`
}

// ReloadAttempt 一次重载尝试的记录，无论成功与否
type ReloadAttempt struct {
	ID         string        `json:"id"`
	Source     ReloadSource  `json:"source"`
	Outcome    string        `json:"outcome"`
	Generation uint64        `json:"generation"`
	Checksum   string        `json:"checksum,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	RemoteAddr string        `json:"remote_addr,omitempty"`
	Duration   time.Duration `json:"duration"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Applied 是否成功发布
func (a ReloadAttempt) Applied() bool {
	return a.Outcome == OutcomeApplied
}
