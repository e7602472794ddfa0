package db

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
)

var Conn *pgxpool.Pool

// Init connects to Postgres
func Init() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s",
			os.Getenv("DB_USER"),
			os.Getenv("DB_PASSWORD"),
			os.Getenv("DB_HOST"),
			os.Getenv("DB_PORT"),
			os.Getenv("DB_NAME"),
		)
	}

	var err error
	Conn, err = pgxpool.New(context.Background(), dsn)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}

	if err = Conn.Ping(context.Background()); err != nil {
		log.Fatalf("Unable to ping database: %v\n", err)
	}

	log.Println("Connected to Postgres successfully")

	// Ensure core schema exists (idempotent)
	EnsureSchema(Conn)
}

// EnsureSchema creates the wallet schema if missing. Safe to call repeatedly.
func EnsureSchema(pool *pgxpool.Pool) {
	ensureUsersTable(pool)
	ensureWalletsTable(pool)
	ensureInvoicesTable(pool)
	ensureWithdrawalsTable(pool)
}

// ensureUsersTable creates the users table if missing
func ensureUsersTable(pool *pgxpool.Pool) {
	ctx := context.Background()
	_, err := pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS users (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            name TEXT NOT NULL UNIQUE,
            email TEXT NOT NULL UNIQUE,
            password TEXT NOT NULL,
            role TEXT NOT NULL DEFAULT 'stacker' CHECK (role IN ('stacker','admin')),
            created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
        );
    `)
	if err != nil {
		log.Printf("failed to create users table: %v", err)
	}
}

// ensureWalletsTable creates the wallets table if missing
func ensureWalletsTable(pool *pgxpool.Pool) {
	ctx := context.Background()
	_, err := pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS wallets (
            user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
            msats BIGINT NOT NULL DEFAULT 0 CHECK (msats >= 0),
            created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
        );
    `)
	if err != nil {
		log.Printf("failed to create wallets table: %v", err)
	}
}

// ensureInvoicesTable creates the invoices table if missing
func ensureInvoicesTable(pool *pgxpool.Pool) {
	ctx := context.Background()
	_, err := pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS invoices (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            hash TEXT NOT NULL UNIQUE,
            bolt11 TEXT NOT NULL,
            msats_requested BIGINT NOT NULL CHECK (msats_requested > 0),
            expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
            created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
        );
        CREATE INDEX IF NOT EXISTS idx_invoices_user ON invoices(user_id, created_at);
    `)
	if err != nil {
		log.Printf("failed to create invoices table: %v", err)
	}
}

// ensureWithdrawalsTable creates the withdrawals table if missing
func ensureWithdrawalsTable(pool *pgxpool.Pool) {
	ctx := context.Background()
	_, err := pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS withdrawals (
            id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
            user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            hash TEXT NOT NULL,
            bolt11 TEXT NOT NULL,
            msats_paying BIGINT NOT NULL CHECK (msats_paying > 0),
            msats_fee_paying BIGINT NOT NULL CHECK (msats_fee_paying >= 0),
            msats_paid BIGINT NULL,
            msats_fee_paid BIGINT NULL,
            status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','confirmed','failed')),
            failure_reason TEXT NULL,
            created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
        );
        CREATE INDEX IF NOT EXISTS idx_withdrawals_user ON withdrawals(user_id, created_at);
        CREATE INDEX IF NOT EXISTS idx_withdrawals_pending ON withdrawals(status) WHERE status = 'pending';
    `)
	if err != nil {
		log.Printf("failed to create withdrawals table: %v", err)
	}
}
