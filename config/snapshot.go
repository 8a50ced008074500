package config

import (
	"context"
	"time"

	"github.com/BaSui01/dynconf/directive"
	"github.com/BaSui01/dynconf/internal/vhost"
	"github.com/BaSui01/dynconf/types"
)

// Snapshot 一次发布的完整配置。发布后不再修改，读取方无需加锁。
type Snapshot struct {
	// Generation 单调递增的代际号，引导配置为 1
	Generation uint64
	// Document 已校验的指令树，与提交方不共享任何节点
	Document *directive.Document
	// Table 由 Document 编译得到的路由表
	Table *vhost.Table
	// Checksum Document 规范化文本的校验和
	Checksum string
	// Source 触发来源
	Source types.ReloadSource
	// AppliedAt 发布时间
	AppliedAt time.Time
	// AttemptID 对应的重载尝试 ID
	AttemptID string
}

// Info 返回快照元数据
func (s *Snapshot) Info() types.ConfigInfo {
	return types.ConfigInfo{
		Generation: s.Generation,
		Checksum:   s.Checksum,
		Source:     s.Source,
		AppliedAt:  s.AppliedAt,
		AttemptID:  s.AttemptID,
		Ports:      s.Table.Ports(),
	}
}

type snapshotKey struct{}

func withSnapshot(ctx context.Context, s *Snapshot) context.Context {
	return context.WithValue(ctx, snapshotKey{}, s)
}

// SnapshotFrom 返回连接建立时绑定的快照
func SnapshotFrom(ctx context.Context) (*Snapshot, bool) {
	s, ok := ctx.Value(snapshotKey{}).(*Snapshot)
	return s, ok && s != nil
}
