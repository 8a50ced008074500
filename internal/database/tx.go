package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"syscall"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TransactionFunc 事务回调；返回错误即回滚
type TransactionFunc func(tx *gorm.DB) error

const (
	retryBaseDelay = 100 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
)

// WithTransaction 执行单次事务
func (pm *PoolManager) WithTransaction(ctx context.Context, fn TransactionFunc) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if pm.closed {
		return ErrPoolClosed
	}
	return pm.db.WithContext(ctx).Transaction(fn)
}

// WithTransactionRetry 最多执行 attempts 次；只有瞬时错误（死锁、序列化冲突、锁等待、断连）才重试
func (pm *PoolManager) WithTransactionRetry(ctx context.Context, attempts int, fn TransactionFunc) error {
	if attempts < 1 {
		attempts = 1
	}
	delay := retryBaseDelay
	var err error
	for i := 1; ; i++ {
		if err = pm.WithTransaction(ctx, fn); err == nil || !IsTransient(err) {
			return err
		}
		if i == attempts {
			break
		}
		pm.logger.Warn("transient transaction error, retrying",
			zap.Int("attempt", i),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay = min(delay*2, retryMaxDelay)
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", attempts, err)
}

// postgres SQLSTATE
var transientPgCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57P01": true, // admin_shutdown
}

// mysql 错误号
var transientMySQLNumbers = map[uint16]bool{
	1205: true, // ER_LOCK_WAIT_TIMEOUT
	1213: true, // ER_LOCK_DEADLOCK
}

// IsTransient 判断错误是否值得重试。驱动的结构化错误优先，sqlite 只能按消息匹配。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientPgCodes[pgErr.Code]
	}
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		return transientMySQLNumbers[myErr.Number]
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, gomysql.ErrInvalidConn) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"database is locked", "sqlite_busy", "deadlock", "sqlstate 40001"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
