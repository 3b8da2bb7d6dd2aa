package db

import (
	"context"
	"embed"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/zkrelay/dbtypes"
	"github.com/ethpandaops/zkrelay/types"
)

//go:embed schema/pgsql/*.sql
var EmbedPgsqlSchema embed.FS

//go:embed schema/sqlite/*.sql
var EmbedSqliteSchema embed.FS

// schema targets for ApplyEmbeddedDbSchema, positive values migrate up to that version
const (
	SchemaLatest int64 = -2
	SchemaNext   int64 = -1
)

var DbEngine dbtypes.DBEngineType
var ReaderDb *sqlx.DB
var writerDb *sqlx.DB

// sqlite allows a single writer, concurrent claims are serialized here instead of failing with SQLITE_BUSY
var writerMutex sync.Mutex

var logger = logrus.StandardLogger().WithField("module", "db")

func checkDbConn(dbConn *sqlx.DB, engine dbtypes.DBEngineType) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := dbConn.PingContext(ctx); err != nil {
		return fmt.Errorf("unable to ping %v database: %w", engine, err)
	}
	return nil
}

func applyPoolLimits(dbConn *sqlx.DB, maxOpen int, maxIdle int) {
	if maxOpen == 0 {
		maxOpen = 50
	}
	if maxIdle == 0 {
		maxIdle = 10
	}
	dbConn.SetMaxOpenConns(maxOpen)
	dbConn.SetMaxIdleConns(min(maxIdle, maxOpen))
}

func initSqlite(config *types.SqliteDatabaseConfig) (*sqlx.DB, error) {
	logger.Infof("opening sqlite payout database %v", config.File)

	dbConn, err := sqlx.Open("sqlite", fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", config.File))
	if err != nil {
		return nil, fmt.Errorf("error opening sqlite database: %w", err)
	}
	if err := checkDbConn(dbConn, dbtypes.DBEngineSqlite); err != nil {
		dbConn.Close()
		return nil, err
	}

	dbConn.SetConnMaxIdleTime(0)
	dbConn.SetConnMaxLifetime(0)
	applyPoolLimits(dbConn, config.MaxOpenConns, config.MaxIdleConns)
	return dbConn, nil
}

func initPgsql(config *types.PgsqlDatabaseConfig) (*sqlx.DB, error) {
	dsn := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(config.Username, config.Password),
		Host:     net.JoinHostPort(config.Host, config.Port),
		Path:     "/" + config.Name,
		RawQuery: "sslmode=disable",
	}
	logger.Infof("opening pgsql payout database %v/%v", dsn.Host, config.Name)

	dbConn, err := sqlx.Open("pgx", dsn.String())
	if err != nil {
		return nil, fmt.Errorf("error opening pgsql database: %w", err)
	}
	if err := checkDbConn(dbConn, dbtypes.DBEnginePgsql); err != nil {
		dbConn.Close()
		return nil, err
	}

	dbConn.SetConnMaxIdleTime(30 * time.Second)
	dbConn.SetConnMaxLifetime(60 * time.Second)
	applyPoolLimits(dbConn, config.MaxOpenConns, config.MaxIdleConns)
	return dbConn, nil
}

// InitDB opens the configured database engine. The connection is process wide,
// MustCloseDB releases it.
func InitDB(config *types.DatabaseConfig) error {
	var dbConn *sqlx.DB
	var err error

	switch config.Engine {
	case "sqlite":
		if config.Sqlite == nil {
			return fmt.Errorf("missing sqlite database config")
		}
		DbEngine = dbtypes.DBEngineSqlite
		dbConn, err = initSqlite(config.Sqlite)
	case "pgsql":
		if config.Pgsql == nil {
			return fmt.Errorf("missing pgsql database config")
		}
		DbEngine = dbtypes.DBEnginePgsql
		dbConn, err = initPgsql(config.Pgsql)
	default:
		return fmt.Errorf("unknown database engine type: %s", config.Engine)
	}
	if err != nil {
		return err
	}

	writerDb = dbConn
	ReaderDb = dbConn
	return nil
}

func MustCloseDB() {
	if writerDb == nil {
		return
	}
	if err := writerDb.Close(); err != nil {
		logger.Errorf("error closing db connection: %v", err)
	}
	writerDb = nil
	ReaderDb = nil
}

// RunDBTransaction runs handler in a write transaction, committing if it returns nil.
func RunDBTransaction(handler func(tx *sqlx.Tx) error) error {
	if writerDb == nil {
		return fmt.Errorf("database not initialized")
	}
	if DbEngine == dbtypes.DBEngineSqlite {
		writerMutex.Lock()
		defer writerMutex.Unlock()
	}

	tx, err := writerDb.Beginx()
	if err != nil {
		return fmt.Errorf("error starting db transaction: %w", err)
	}
	defer tx.Rollback()

	if err := handler(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing db transaction: %w", err)
	}
	return nil
}

// ApplyEmbeddedDbSchema migrates the schema to version, or to SchemaLatest / SchemaNext.
func ApplyEmbeddedDbSchema(version int64) error {
	var engineDialect string
	var schemaDirectory string
	switch DbEngine {
	case dbtypes.DBEnginePgsql:
		goose.SetBaseFS(EmbedPgsqlSchema)
		engineDialect = "postgres"
		schemaDirectory = "schema/pgsql"
	case dbtypes.DBEngineSqlite:
		goose.SetBaseFS(EmbedSqliteSchema)
		engineDialect = "sqlite3"
		schemaDirectory = "schema/sqlite"
	default:
		return fmt.Errorf("unknown database engine")
	}
	if err := goose.SetDialect(engineDialect); err != nil {
		return err
	}

	switch version {
	case SchemaLatest:
		return goose.Up(writerDb.DB, schemaDirectory, goose.WithAllowMissing())
	case SchemaNext:
		return goose.UpByOne(writerDb.DB, schemaDirectory, goose.WithAllowMissing())
	default:
		return goose.UpTo(writerDb.DB, schemaDirectory, version, goose.WithAllowMissing())
	}
}

// EngineQuery picks the dialect specific variant of a query, falling back to DBEngineAny.
func EngineQuery(queryMap map[dbtypes.DBEngineType]string) string {
	if queryMap[DbEngine] != "" {
		return queryMap[DbEngine]
	}
	return queryMap[dbtypes.DBEngineAny]
}
