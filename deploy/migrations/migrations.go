package migrations

import "embed"

// Files 包含按版本号命名的 MySQL 迁移脚本，由结果存储在启动时应用。
//
//go:embed *.sql
var Files embed.FS
