package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"admissions/internal/config"
	"admissions/internal/domain/models"
	"admissions/internal/lib/migrator"
	"admissions/internal/lib/password"
	"admissions/internal/storage/postgres"
	"admissions/internal/storage/sqlite"
)

type adminSaver interface {
	SaveUser(ctx context.Context, username, email string, passHash []byte, role string) (int64, error)
}

func main() {
	var (
		configPath    string
		down          bool
		adminUsername string
		adminEmail    string
		adminPassword string
	)
	flag.StringVar(&configPath, "config", "", "path to config file (or use CONFIG_PATH env)")
	flag.BoolVar(&down, "down", false, "roll back every migration")
	flag.StringVar(&adminUsername, "admin-username", "", "seed an admin account with this username")
	flag.StringVar(&adminEmail, "admin-email", "", "email of the seeded admin")
	flag.StringVar(&adminPassword, "admin-password", os.Getenv("ADMIN_PASSWORD"), "password of the seeded admin (or ADMIN_PASSWORD env)")
	flag.Parse()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	cfg := config.MustLoadPath(configPath)
	driver, dsn := cfg.Storage.Driver, cfg.Storage.DSN()

	if down {
		if err := migrator.Down(driver, dsn); err != nil {
			log.Fatalf("failed to roll back migrations: %v", err)
		}
		fmt.Println("migrations rolled back")
		return
	}

	if err := migrator.Up(driver, dsn); err != nil {
		log.Fatalf("failed to apply migrations: %v", err)
	}
	fmt.Println("migrations applied")

	if adminUsername == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	id, err := seedAdmin(ctx, cfg, adminUsername, adminEmail, adminPassword)
	if err != nil {
		log.Fatalf("failed to seed admin: %v", err)
	}
	fmt.Printf("admin %s seeded (id=%d)\n", adminUsername, id)
}

func seedAdmin(ctx context.Context, cfg *config.Config, username, email, plaintext string) (int64, error) {
	if err := password.CheckStrength(plaintext); err != nil {
		return 0, err
	}

	hash, err := password.NewHasher(cfg.Password.BcryptCost).Hash(plaintext)
	if err != nil {
		return 0, err
	}

	var store adminSaver
	switch cfg.Storage.Driver {
	case migrator.DriverSQLite:
		s, err := sqlite.New(cfg.Storage.Path)
		if err != nil {
			return 0, err
		}
		defer s.Close()
		store = s
	case migrator.DriverPostgres:
		s, err := postgres.New(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return 0, err
		}
		defer s.Close()
		store = s
	default:
		return 0, fmt.Errorf("%w: %s", migrator.ErrUnknownDriver, cfg.Storage.Driver)
	}

	return store.SaveUser(ctx, strings.TrimSpace(username), strings.ToLower(strings.TrimSpace(email)), hash, models.RoleAdmin)
}
