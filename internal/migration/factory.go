package migration

import (
	"github.com/BaSui01/dynconf/config"
)

// NewMigratorFromAuditConfig 从审计库配置创建迁移器
func NewMigratorFromAuditConfig(cfg config.AuditConfig) (*DefaultMigrator, error) {
	mc, err := ConfigFromAudit(cfg)
	if err != nil {
		return nil, err
	}
	return NewMigrator(mc)
}

// ConfigFromAudit 把审计配置翻译为迁移配置，sqlite 返回 ErrManagedByGorm
func ConfigFromAudit(cfg config.AuditConfig) (Config, error) {
	dbType, err := ParseDatabaseType(cfg.Driver)
	if err != nil {
		return Config{}, err
	}
	if dbType == DatabaseTypeSQLite {
		return Config{}, ErrManagedByGorm
	}
	return Config{
		DatabaseType: dbType,
		DatabaseURL:  BuildDatabaseURL(dbType, cfg.Host, cfg.Port, cfg.Name, cfg.User, cfg.Password, cfg.SSLMode),
		TableName:    DefaultTableName,
	}, nil
}

// NewMigratorFromURL 用显式连接串创建迁移器
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(Config{DatabaseType: dt, DatabaseURL: dbURL})
}
