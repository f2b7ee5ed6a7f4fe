// Package mysql provides the MySQL backend of the storage interfaces.
//
// Queries are shared with SQLite through store/sqlstore. Dates are kept as
// VARCHAR(10) so no parseTime handling is needed on the connection.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/warp/pcp-engine/store/sqlstore"
)

// Options holds the connection settings.
type Options struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// DSN formats the options as a go-sql-driver DSN.
func (o Options) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = o.User
	cfg.Passwd = o.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
	cfg.DBName = o.Database
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	cfg.ClientFoundRows = true
	return cfg.FormatDSN()
}

// New connects to MySQL and migrates the schema.
func New(ctx context.Context, dsn string) (*sqlstore.Store, error) {
	const op = "store.mysql.New"

	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// Updates that change nothing must still count as matched.
	cfg.ClientFoundRows = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	db := sql.OpenDB(connector)
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	store := sqlstore.New(db, Dialect())
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return store, nil
}

func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:              "mysql",
		Schema:            schema,
		Upsert:            sqlstore.MySQLUpsert,
		IsUniqueViolation: isDuplicateKey,
	}
}

// isDuplicateKey matches ER_DUP_ENTRY.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// MySQL has no partial indexes, so one pending request per day is enforced
// by the approval workflow only.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS piece_models (
		id VARCHAR(64) PRIMARY KEY,
		code VARCHAR(64) NOT NULL,
		hourly_rate INT NOT NULL,
		company_id VARCHAR(64) NOT NULL DEFAULT ''
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS production_groups (
		id VARCHAR(64) PRIMARY KEY,
		description VARCHAR(255) NOT NULL DEFAULT '',
		active TINYINT(1) NOT NULL DEFAULT 1
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS production_orders (
		id VARCHAR(64) PRIMARY KEY,
		code VARCHAR(64) NOT NULL,
		model_id VARCHAR(64) NOT NULL,
		total_quantity INT NOT NULL,
		start_date VARCHAR(10) NOT NULL,
		deadline VARCHAR(10) NULL,
		active TINYINT(1) NOT NULL DEFAULT 1,
		INDEX idx_orders_code (code)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS group_versions (
		group_id VARCHAR(64) PRIMARY KEY,
		version BIGINT NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS order_versions (
		order_id VARCHAR(64) PRIMARY KEY,
		version BIGINT NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS distributions (
		order_id VARCHAR(64) NOT NULL,
		group_id VARCHAR(64) NOT NULL,
		closed TINYINT(1) NOT NULL DEFAULT 0,
		closed_at VARCHAR(40) NULL,
		PRIMARY KEY (order_id, group_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS distribution_days (
		order_id VARCHAR(64) NOT NULL,
		group_id VARCHAR(64) NOT NULL,
		work_date VARCHAR(10) NOT NULL,
		carried INT NOT NULL DEFAULT 0,
		relocated TINYINT(1) NOT NULL DEFAULT 0,
		approval VARCHAR(16) NOT NULL DEFAULT '',
		note VARCHAR(1024) NOT NULL DEFAULT '',
		PRIMARY KEY (order_id, group_id, work_date),
		INDEX idx_days_approval (approval),
		FOREIGN KEY (order_id, group_id) REFERENCES distributions(order_id, group_id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS slots (
		id VARCHAR(64) PRIMARY KEY,
		order_id VARCHAR(64) NOT NULL,
		group_id VARCHAR(64) NOT NULL,
		work_date VARCHAR(10) NOT NULL,
		start_min INT NOT NULL,
		end_min INT NOT NULL,
		planned INT NOT NULL DEFAULT 0,
		actual INT NOT NULL DEFAULT 0,
		loss INT NOT NULL DEFAULT 0,
		status VARCHAR(16) NOT NULL,
		recorded TINYINT(1) NOT NULL DEFAULT 0,
		needs_approval TINYINT(1) NOT NULL DEFAULT 0,
		catch_all TINYINT(1) NOT NULL DEFAULT 0,
		INDEX idx_slots_group_date (group_id, work_date),
		INDEX idx_slots_order (order_id),
		UNIQUE INDEX idx_unique_slot_span (order_id, group_id, work_date, start_min, end_min),
		FOREIGN KEY (order_id, group_id, work_date)
			REFERENCES distribution_days(order_id, group_id, work_date) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS approvers (
		user_id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL DEFAULT '',
		policy VARCHAR(2) NOT NULL,
		active TINYINT(1) NOT NULL DEFAULT 1
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS approval_requests (
		id VARCHAR(64) PRIMARY KEY,
		order_id VARCHAR(64) NOT NULL,
		group_id VARCHAR(64) NOT NULL,
		work_date VARCHAR(10) NOT NULL,
		reason VARCHAR(32) NOT NULL,
		worked_minutes INT NOT NULL DEFAULT 0,
		requested_by VARCHAR(64) NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL,
		created_at VARCHAR(40) NOT NULL,
		resolved_at VARCHAR(40) NULL,
		INDEX idx_requests_day (order_id, group_id, work_date),
		INDEX idx_requests_status (status)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS approval_decisions (
		request_id VARCHAR(64) NOT NULL,
		user_id VARCHAR(64) NOT NULL,
		approve TINYINT(1) NOT NULL,
		comment VARCHAR(1024) NOT NULL DEFAULT '',
		decided_at VARCHAR(40) NOT NULL,
		PRIMARY KEY (request_id, user_id),
		FOREIGN KEY (request_id) REFERENCES approval_requests(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id VARCHAR(64) PRIMARY KEY,
		created_at VARCHAR(40) NOT NULL,
		actor VARCHAR(64) NOT NULL DEFAULT '',
		action VARCHAR(32) NOT NULL,
		order_id VARCHAR(64) NOT NULL DEFAULT '',
		group_id VARCHAR(64) NOT NULL DEFAULT '',
		payload_json TEXT NULL,
		INDEX idx_audit_order (order_id, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}
