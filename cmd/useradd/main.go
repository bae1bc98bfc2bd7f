package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	appcfg "github.com/park285/matka-round-server/internal/config"
	"github.com/park285/matka-round-server/internal/domain"
	"github.com/park285/matka-round-server/internal/session"
	"github.com/park285/matka-round-server/internal/store"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	username := flag.String("username", "", "login name")
	password := flag.String("password", "", "password")
	balance := flag.String("balance", "0", "opening wallet balance")
	admin := flag.Bool("admin", false, "grant the administrator role")
	flag.Parse()

	if strings.TrimSpace(*username) == "" || *password == "" {
		log.Fatal("-username and -password are required")
	}
	bal, err := decimal.NewFromString(*balance)
	if err != nil || bal.IsNegative() {
		log.Fatalf("invalid -balance %q", *balance)
	}

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	hash, err := session.HashPassword(*password, bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	role := domain.RoleStandard
	if *admin {
		role = domain.RoleAdmin
	}
	u := &domain.User{
		ID:           uuid.NewString(),
		Username:     strings.TrimSpace(*username),
		PasswordHash: hash,
		Balance:      bal,
		Role:         role,
		Active:       true,
	}
	if err := st.InsertUser(ctx, u); err != nil {
		log.Fatalf("insert user: %v", err)
	}
	log.Printf("created user id=%s username=%s role=%s balance=%s", u.ID, u.Username, u.Role, u.Balance)
}
