package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/af-corp/wall-e/internal/auth"
)

// keygen mints a service token for the lock actor API. Only the hash is
// stored; the raw token is printed once.
func main() {
	name := flag.String("name", "", "human-friendly token name, e.g. the calling service (required)")
	env := flag.String("env", "prod", "environment prefix")
	expires := flag.String("expires", "365d", "expiry duration (e.g., 365d, 720h)")
	revoke := flag.String("revoke", "", "revoke the token with this id instead of creating one")
	dbURL := flag.String("db-url", "", "database URL (overrides env)")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, resolveDSN(*dbURL))
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	if *revoke != "" {
		tag, err := conn.Exec(ctx, `UPDATE api_tokens SET status = 'revoked' WHERE id = $1`, *revoke)
		if err != nil {
			log.Fatalf("failed to revoke token: %v", err)
		}
		if tag.RowsAffected() == 0 {
			log.Fatalf("no token with id %s", *revoke)
		}
		fmt.Printf("token %s revoked (cached lookups expire within 5 minutes)\n", *revoke)
		return
	}

	if *name == "" {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nerror: -name is required")
		os.Exit(1)
	}

	rawKey, err := auth.GenerateKey(*env)
	if err != nil {
		log.Fatalf("failed to generate token: %v", err)
	}
	tokenHash := auth.HashKey(rawKey)
	tokenPrefix := auth.KeyPrefix(rawKey)

	dur, err := auth.ParseDuration(*expires)
	if err != nil {
		log.Fatalf("invalid expires: %v", err)
	}
	expiresAt := time.Now().Add(dur)

	var tokenID string
	err = conn.QueryRow(ctx, `
		INSERT INTO api_tokens (name, token_hash, token_prefix, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, *name, tokenHash, tokenPrefix, expiresAt).Scan(&tokenID)
	if err != nil {
		log.Fatalf("failed to insert token: %v", err)
	}

	fmt.Println("=== wall-e service token ===")
	fmt.Println()
	fmt.Printf("  Token ID:     %s\n", tokenID)
	fmt.Printf("  Token Prefix: %s\n", tokenPrefix)
	fmt.Printf("  Name:         %s\n", *name)
	fmt.Printf("  Expires:      %s\n", expiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("  Token (save this, it will NOT be shown again):")
	fmt.Printf("  %s\n", rawKey)
	fmt.Println()
	fmt.Println("============================")
}

func resolveDSN(flagURL string) string {
	if flagURL != "" {
		return flagURL
	}
	if env := os.Getenv("DATABASE_URL"); env != "" {
		return env
	}
	host := envOrDefault("DB_HOST", "localhost")
	port := envOrDefault("DB_PORT", "5432")
	user := envOrDefault("DB_USER", "walle")
	pass := envOrDefault("DB_PASSWORD", "walle-dev")
	name := envOrDefault("DB_NAME", "walle")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, pass, host, port, name)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
