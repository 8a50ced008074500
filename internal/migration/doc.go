// Copyright (c) dynconf Authors.
// Licensed under the MIT License.

/*
Package migration 管理审计日志库（reload_records 表）的版本化 schema。

postgres 与 mysql 的 SQL 迁移通过 embed.FS 内嵌，由 golang-migrate
执行；sqlite 部署沿用 gorm AutoMigrate，这里返回 ErrManagedByGorm。

  - Migrator / DefaultMigrator：Up/Down/Steps/Goto/Force/Version/Status。
  - NewMigratorFromAuditConfig：从 config.AuditConfig 构造。
  - CLI：`dynconf migrate` 子命令的终端输出层。
*/
package migration
