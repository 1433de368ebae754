// Package dbtest opens throwaway SQLite databases carrying the settlement schema
// so repositories and transactions can be exercised without Postgres.
package dbtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const schema = `
CREATE TABLE auctions (
  id TEXT PRIMARY KEY,
  listing_id TEXT NOT NULL,
  seller_id TEXT NOT NULL,
  high_bid_id TEXT,
  starting_price_cents INTEGER NOT NULL,
  current_price_cents INTEGER NOT NULL,
  reserve_price_cents INTEGER,
  bid_count INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  starts_at DATETIME NOT NULL,
  ends_at DATETIME NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE UNIQUE INDEX auctions_one_active_per_listing ON auctions(listing_id) WHERE status = 'active';

CREATE TABLE bids (
  id TEXT PRIMARY KEY,
  auction_id TEXT NOT NULL,
  bidder_id TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  max_proxy_cents INTEGER,
  is_proxy INTEGER NOT NULL DEFAULT 0,
  placed_at DATETIME NOT NULL
);

CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  listing_id TEXT NOT NULL,
  auction_id TEXT NOT NULL UNIQUE,
  buyer_id TEXT NOT NULL,
  seller_id TEXT NOT NULL,
  winning_bid_id TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  platform_fee_cents INTEGER NOT NULL,
  seller_amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  state TEXT NOT NULL,
  version INTEGER NOT NULL DEFAULT 1,
  stripe_payment_intent_id TEXT,
  paid_at DATETIME,
  cancelled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  CHECK (amount_cents = platform_fee_cents + seller_amount_cents)
);

CREATE TABLE payments (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  provider_payment_intent_id TEXT NOT NULL,
  status TEXT NOT NULL,
  failure_reason TEXT,
  processed_at DATETIME,
  created_at DATETIME
);
CREATE UNIQUE INDEX payments_one_completed_capture ON payments(order_id) WHERE kind = 'capture' AND status = 'completed';

CREATE TABLE ledger_entries (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  type TEXT NOT NULL,
  description TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  user_id TEXT,
  created_at DATETIME
);

CREATE TABLE webhook_events (
  event_id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  order_id TEXT,
  processed_at DATETIME,
  error_message TEXT,
  duplicate_of TEXT,
  received_at DATETIME NOT NULL
);
`

// Open returns a private in-memory database with the settlement tables created.
// The pool is pinned to one connection so concurrent callers serialize the
// same way row locks serialize them in Postgres.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, conn.Exec(schema).Error)
	return conn
}

// TxRunner runs transactions against a test database the way db.Client does.
type TxRunner struct {
	DB *gorm.DB
}

func (r TxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.DB.WithContext(ctx).Transaction(fn)
}
