package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Params describes a MySQL connection. Zero-valued pool fields fall
// back to defaults sized for a single party host instance: requests
// are short point queries, so a modest pool with a shorter recycle
// interval keeps connections fresh across proxy idle timeouts.
type Params struct {
	User string
	Pass string
	Host string
	Port string
	Name string

	MaxOpenConns    int           // default 20
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 15m
}

// DSN renders the driver connection string. parseTime maps DATETIME
// columns onto time.Time; loc=UTC pins every scanned timestamp so
// event-log cursors compare consistently across replicas.
func (p Params) DSN() string {
	auth := p.User
	if p.Pass != "" {
		auth = p.User + ":" + p.Pass
	}
	return fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, p.Host, p.Port, p.Name)
}

// Open connects to MySQL, applies the pool settings and verifies the
// connection with a bounded ping.
func Open(p Params) (*sql.DB, error) {
	db, err := sql.Open("mysql", p.DSN())
	if err != nil {
		return nil, err
	}

	maxOpen := p.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 20
	}
	maxIdle := p.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 10
	}
	lifetime := p.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 15 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
