// Package paymenttest holds shared fixtures for payment and lottery tests.
package paymenttest

import (
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// SetupDB opens a private in-memory SQLite database with the full schema.
func SetupDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE users (
			id BIGINT PRIMARY KEY,
			email TEXT NOT NULL,
			display_name TEXT,
			kyc_verified BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE lotteries (
			id BIGINT PRIMARY KEY,
			seller_id BIGINT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			item_value BIGINT NOT NULL,
			items_count INTEGER NOT NULL,
			ticket_price BIGINT NOT NULL,
			status TEXT NOT NULL,
			expiration DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE lottery_tickets (
			id BIGINT PRIMARY KEY,
			lottery_id BIGINT NOT NULL,
			buyer_id BIGINT NOT NULL,
			ticket_number INTEGER NOT NULL,
			payment_status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_lottery_tickets_lottery_number ON lottery_tickets(lottery_id, ticket_number)`,
		`CREATE TABLE payment_transactions (
			id BIGINT PRIMARY KEY,
			ticket_id BIGINT NOT NULL,
			lottery_id BIGINT NOT NULL,
			buyer_id BIGINT NOT NULL,
			gross_amount BIGINT NOT NULL,
			commission_amount BIGINT NOT NULL,
			net_amount BIGINT NOT NULL,
			commission_rate_bps BIGINT NOT NULL,
			currency TEXT NOT NULL,
			provider TEXT NOT NULL,
			provider_order_id TEXT,
			provider_capture_id TEXT,
			payer_email TEXT,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			completed_at DATETIME,
			refunded_at DATETIME
		)`,
		`CREATE INDEX ix_payment_transactions_provider_order ON payment_transactions(provider, provider_order_id)`,
		`CREATE TABLE refunds (
			id BIGINT PRIMARY KEY,
			transaction_id BIGINT NOT NULL,
			amount BIGINT NOT NULL,
			commission_refunded BIGINT NOT NULL,
			net_refunded BIGINT NOT NULL,
			reason TEXT,
			status TEXT NOT NULL,
			provider_refund_id TEXT,
			failure_detail TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_refunds_provider_refund ON refunds(provider_refund_id) WHERE provider_refund_id <> ''`,
		`CREATE TABLE gateway_events (
			id BIGINT PRIMARY KEY,
			provider TEXT NOT NULL,
			provider_event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			received_at DATETIME NOT NULL,
			processed_at DATETIME
		)`,
		`CREATE UNIQUE INDEX ux_gateway_events_provider_event ON gateway_events(provider, provider_event_id)`,
		`CREATE TABLE winner_drawings (
			id BIGINT PRIMARY KEY,
			lottery_id BIGINT NOT NULL,
			winning_ticket_id BIGINT,
			winner_id BIGINT,
			prize_amount BIGINT NOT NULL,
			status TEXT NOT NULL,
			drawn_at DATETIME,
			created_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_winner_drawings_lottery ON winner_drawings(lottery_id)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func SeedUser(t *testing.T, db *gorm.DB, id snowflake.ID, email string, verified bool) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO users (id, email, display_name, kyc_verified, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, email, email, verified, time.Now().UTC(),
	).Error
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func SeedLottery(t *testing.T, db *gorm.DB, id, sellerID snowflake.ID, itemValue int64, itemsCount int, status string) {
	t.Helper()
	now := time.Now().UTC()
	err := db.Exec(
		`INSERT INTO lotteries (
			id, seller_id, title, description, item_value, items_count,
			ticket_price, status, expiration, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		id, sellerID, "Test Lottery", "", itemValue, itemsCount,
		itemValue/int64(itemsCount), status, now, now,
	).Error
	if err != nil {
		t.Fatalf("seed lottery: %v", err)
	}
}
