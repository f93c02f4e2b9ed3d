//go:build integration
// +build integration

// Package testhelpers wires live backing services for integration tests.
package testhelpers

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/crop-advisory-service/internal/cache"
	"github.com/kjstillabower/crop-advisory-service/internal/cities"
)

// IntegrationTestConfig holds the addresses of live dependencies.
type IntegrationTestConfig struct {
	MemcachedAddrs string
	MySQLDSN       string
	MySQLTable     string
}

// GetIntegrationConfig reads integration settings from the environment.
// MEMCACHED_ADDRS defaults to localhost:11211; MYSQL_DSN has no default.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	cfg := IntegrationTestConfig{
		MemcachedAddrs: os.Getenv("MEMCACHED_ADDRS"),
		MySQLDSN:       os.Getenv("MYSQL_DSN"),
		MySQLTable:     os.Getenv("MYSQL_TABLE"),
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	if cfg.MySQLTable == "" {
		cfg.MySQLTable = cities.DefaultMySQLTable
	}
	return cfg
}

// SetupMemcached connects to memcached, skipping the test when it is unreachable.
func SetupMemcached(t *testing.T, cfg IntegrationTestConfig) *cache.MemcachedCache {
	t.Helper()
	c := cache.NewMemcachedCache(cfg.MemcachedAddrs, 500*time.Millisecond, 2)
	if err := c.Ping(); err != nil {
		_ = c.Close()
		t.Skipf("memcached not reachable at %s: %v", cfg.MemcachedAddrs, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// SetupMySQL opens the city database, skipping the test when MYSQL_DSN is unset or the
// server does not answer within a few seconds.
func SetupMySQL(t *testing.T, cfg IntegrationTestConfig) *sql.DB {
	t.Helper()
	if cfg.MySQLDSN == "" {
		t.Skip("MYSQL_DSN not set, skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := cities.OpenMySQL(ctx, cfg.MySQLDSN, 3*time.Second)
	if err != nil {
		t.Skipf("mysql not reachable: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// UniqueKey returns a cache key that does not collide across test runs.
func UniqueKey(prefix string) string {
	return prefix + "-" + time.Now().Format("150405.000000000")
}
