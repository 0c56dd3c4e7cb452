// Command token mints a bearer token for local testing of the API.
//
//	go run ./cmd/token -user 1 -email buyer@example.com -role USER
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/newstore-ledger/internal/utils"
)

func main() {
	_ = godotenv.Load()

	user := flag.Int64("user", 1, "user id (sub claim)")
	email := flag.String("email", "", "email claim")
	role := flag.String("role", "USER", "role claim, USER or ADMIN")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	tok, err := utils.NewAccessToken(os.Getenv("JWT_SECRET"), *user, *email, *role, *ttl)
	if err != nil {
		slog.Error("cannot mint token", "err", err)
		os.Exit(1)
	}
	fmt.Println(tok.Token)
}
