package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/recall/recall-backend/internal/auth"
	"github.com/recall/recall-backend/internal/config"
	"github.com/recall/recall-backend/internal/database"
	"github.com/recall/recall-backend/internal/repository/postgres"
)

// Creates a user account directly against the database, bypassing the HTTP
// API. Handy for provisioning a first account on a fresh deployment.
func main() {
	var (
		username = flag.String("username", "", "username for the new account")
		password = flag.String("password", "", "password for the new account")
	)
	flag.Parse()

	if *username == "" || *password == "" {
		log.Fatal("both -username and -password are required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration: ", err)
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to database: ", err)
	}
	defer db.Close()

	if err := database.RunMigrations(cfg.Database); err != nil {
		log.Fatal("failed to run migrations: ", err)
	}

	users := postgres.NewUserRepository(db.DB)
	service := auth.NewService(users, cfg.Auth.JWTSecret)

	user, err := service.Register(context.Background(), *username, *password)
	if err != nil {
		log.Fatal("failed to create user: ", err)
	}

	fmt.Printf("created user %s (%s)\n", user.Username, user.ID)
}
