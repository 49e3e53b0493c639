// Package dbtest opens an in-memory sqlite database carrying the payments
// schema so package tests can exercise real SQL.
package dbtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS listings (
  id TEXT PRIMARY KEY,
  seller_id TEXT NOT NULL,
  title TEXT NOT NULL,
  price_cents INTEGER NOT NULL CHECK (price_cents > 0),
  currency TEXT NOT NULL DEFAULT 'usd',
  image_url TEXT,
  status TEXT NOT NULL DEFAULT 'active',
  sold_to TEXT,
  sold_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  buyer_id TEXT NOT NULL,
  seller_id TEXT NOT NULL,
  listing_id TEXT NOT NULL,
  item_snapshot TEXT NOT NULL,
  subtotal_cents INTEGER NOT NULL CHECK (subtotal_cents > 0),
  service_fee_cents INTEGER NOT NULL,
  processing_fee_cents INTEGER NOT NULL,
  total_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'usd',
  payment_method TEXT NOT NULL DEFAULT 'card',
  provider TEXT,
  provider_ref TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  notes TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  CHECK (total_cents = subtotal_cents + service_fee_cents + processing_fee_cents)
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS orders_provider_ref_key ON orders (provider_ref) WHERE provider_ref IS NOT NULL;`, `
CREATE TABLE IF NOT EXISTS payment_authorizations (
  id TEXT PRIMARY KEY,
  order_id TEXT,
  provider TEXT NOT NULL,
  provider_ref TEXT NOT NULL,
  client_secret TEXT NOT NULL DEFAULT '',
  idempotency_key TEXT NOT NULL,
  subtotal_cents INTEGER NOT NULL,
  service_fee_cents INTEGER NOT NULL,
  processing_fee_cents INTEGER NOT NULL,
  total_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  connected_account_id TEXT,
  status TEXT NOT NULL DEFAULT 'active',
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS payment_authorizations_provider_ref_key ON payment_authorizations (provider, provider_ref);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS payment_authorizations_one_active_per_order ON payment_authorizations (order_id) WHERE status = 'active';`, `
CREATE TABLE IF NOT EXISTS webhook_logs (
  id TEXT PRIMARY KEY,
  provider TEXT NOT NULL,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  order_id TEXT,
  authorization_ref TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  retry_count INTEGER NOT NULL DEFAULT 0,
  payload TEXT NOT NULL,
  error TEXT,
  duration_ms INTEGER NOT NULL DEFAULT 0,
  received_at DATETIME,
  updated_at DATETIME,
  CONSTRAINT webhook_logs_provider_event_key UNIQUE (provider, event_id)
);`, `
CREATE TABLE IF NOT EXISTS webhook_log_attempts (
  id TEXT PRIMARY KEY,
  log_id TEXT NOT NULL,
  attempt INTEGER NOT NULL,
  "trigger" TEXT NOT NULL,
  status TEXT NOT NULL,
  error TEXT,
  duration_ms INTEGER NOT NULL DEFAULT 0,
  operator_id TEXT,
  created_at DATETIME,
  UNIQUE (log_id, attempt)
);`, `
CREATE TABLE IF NOT EXISTS refunds (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  provider TEXT NOT NULL,
  provider_refund_id TEXT NOT NULL UNIQUE,
  amount_cents INTEGER NOT NULL CHECK (amount_cents > 0),
  kind TEXT NOT NULL CHECK (kind IN ('full', 'partial')),
  concurrent BOOLEAN NOT NULL DEFAULT false,
  reason TEXT,
  operator_id TEXT NOT NULL,
  created_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS audit_logs (
  id TEXT PRIMARY KEY,
  action TEXT NOT NULL,
  entity TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  actor_id TEXT,
  before_state TEXT,
  after_state TEXT,
  metadata TEXT,
  created_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`, `
CREATE TABLE IF NOT EXISTS outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`,
}

// Open returns a fresh in-memory database with every payments table created.
// The pool is pinned to one connection so the in-memory database survives for
// the lifetime of the test.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

// TxRunner adapts a bare *gorm.DB to the WithTx surface services depend on.
type TxRunner struct {
	DB *gorm.DB
}

// WithTx runs fn in a transaction on the wrapped connection.
func (r TxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.DB.WithContext(ctx).Transaction(fn)
}
