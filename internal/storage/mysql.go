package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	// Registers the mysql driver.
	_ "github.com/go-sql-driver/mysql"
	"github.com/goldpoll/goldpoll/internal/config"
)

// MySQL is the mysql backed quote store for deployments that prefer a
// database over a shared file. A multi-row upsert commits one cycle's
// updates as a single atomic statement.
type MySQL struct {
	DB  *sql.DB
	Cfg *config.MySQL
}

var mysql MySQL

// InitMySQL initializes mysql connection with configured values.
func InitMySQL(cfg *config.MySQL) (*MySQL, error) {
	if mysql.DB == nil {
		dataSourceName := cfg.User + ":" + cfg.Password + cfg.URL + "/" + cfg.Schema
		db, err := sql.Open("mysql", dataSourceName)
		if err != nil {
			return nil, err
		}
		db.SetConnMaxLifetime(time.Second * time.Duration(cfg.ConnMaxLifetimeSec))
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)

		ctx := context.Background()
		if cfg.ReqTimeoutSec > 0 {
			timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ReqTimeoutSec)*time.Second)
			ctx = timeoutCtx
			defer cancel()
		}
		if err = db.PingContext(ctx); err != nil {
			return nil, err
		}
		mysql = MySQL{
			DB:  db,
			Cfg: cfg,
		}
	}
	return &mysql, nil
}

// Load reads the full persisted mapping from the quote table.
func (m *MySQL) Load(appCtx context.Context) (map[string]float64, error) {
	ctx := appCtx
	if m.Cfg.ReqTimeoutSec > 0 {
		timeoutCtx, cancel := context.WithTimeout(appCtx, time.Duration(m.Cfg.ReqTimeoutSec)*time.Second)
		ctx = timeoutCtx
		defer cancel()
	}

	rows, err := m.DB.QueryContext(ctx, "SELECT asset, price FROM quote")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prices := map[string]float64{}
	for rows.Next() {
		var (
			asset string
			price float64
		)
		if err = rows.Scan(&asset, &price); err != nil {
			return nil, err
		}
		prices[asset] = price
	}
	return prices, rows.Err()
}

// MergeAndSave upserts updates into the quote table. Keys absent from
// updates are untouched, the whole batch commits in one statement.
func (m *MySQL) MergeAndSave(appCtx context.Context, updates map[string]float64) error {
	if len(updates) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO quote(asset, price, updated_at) VALUES ")
	args := make([]interface{}, 0, len(updates)*3)
	i := 0
	for asset, price := range updates {
		if i == 0 {
			sb.WriteString("(?, ?, ?)")
		} else {
			sb.WriteString(",(?, ?, ?)")
		}
		args = append(args, asset, price, time.Now().UTC())
		i++
	}
	sb.WriteString(" ON DUPLICATE KEY UPDATE price = VALUES(price), updated_at = VALUES(updated_at)")

	ctx := appCtx
	if m.Cfg.ReqTimeoutSec > 0 {
		timeoutCtx, cancel := context.WithTimeout(appCtx, time.Duration(m.Cfg.ReqTimeoutSec)*time.Second)
		ctx = timeoutCtx
		defer cancel()
	}
	_, err := m.DB.ExecContext(ctx, sb.String(), args...)
	return err
}
