package migration

import (
	"fmt"

	appconfig "github.com/BaSui01/groundwork/config"
)

// DefaultTableName 版本表名；serve --migrate 与 migrate 子命令共用
const DefaultTableName = "gw_schema_migrations"

// NewMigratorFromDatabaseConfig 按 database 配置段构建迁移器（migrate 子命令使用）
func NewMigratorFromDatabaseConfig(dbCfg appconfig.DatabaseConfig) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	var dbURL string
	switch dbType {
	case DatabaseTypePostgres:
		dbURL = BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode)
	case DatabaseTypeMySQL:
		dbURL = BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, "")
	case DatabaseTypeSQLite:
		// Name 即数据库文件路径
		dbURL = BuildDatabaseURL(dbType, "", 0, dbCfg.Name, "", "", "")
	}

	return NewMigrator(&Config{DatabaseType: dbType, DatabaseURL: dbURL})
}
