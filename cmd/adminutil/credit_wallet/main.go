package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"github.com/stacksats/walletd/internal/db"
)

func main() {
	name := flag.String("name", "", "Name of the user whose wallet to credit")
	sats := flag.Int64("sats", 0, "Amount to credit, in satoshis")
	flag.Parse()

	if *name == "" || *sats <= 0 {
		log.Fatalf("usage: go run cmd/adminutil/credit_wallet/main.go -name alice -sats 1000")
	}

	_ = godotenv.Load()

	// Initialize DB from environment variables
	db.Init()

	ct, err := db.Conn.Exec(context.Background(), `
        UPDATE wallets SET msats = msats + $1
        WHERE user_id = (SELECT id FROM users WHERE name = $2)
    `, *sats*1000, *name)
	if err != nil {
		log.Fatalf("failed to credit wallet: %v", err)
	}

	if ct.RowsAffected() == 0 {
		log.Fatalf("no user found with name: %s", *name)
	}

	fmt.Printf("Credited %d sats to @%s.\n", *sats, *name)
}
