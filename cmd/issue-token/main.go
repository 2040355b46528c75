package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/smarttransit/booking-engine/internal/config"
	"github.com/smarttransit/booking-engine/pkg/jwt"
)

// issue-token mints an access token for local testing of the booking API.
// Production tokens come from the identity service.
func main() {
	customer := flag.String("customer", "", "customer id (random when empty)")
	roles := flag.String("roles", "passenger", "comma separated roles")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Server.Environment == "production" {
		log.Fatal("Refusing to issue tokens in production")
	}

	customerID := uuid.New()
	if *customer != "" {
		customerID, err = uuid.Parse(*customer)
		if err != nil {
			log.Fatalf("Invalid customer id: %v", err)
		}
	}

	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	token, err := jwtService.GenerateAccessToken(customerID, strings.Split(*roles, ","))
	if err != nil {
		log.Fatalf("Failed to generate access token: %v", err)
	}

	claims, err := jwtService.ValidateAccessToken(token)
	if err != nil {
		log.Fatalf("Generated token does not validate: %v", err)
	}

	fmt.Printf("Customer: %s\n", claims.CustomerID)
	fmt.Printf("Roles:    %v\n", claims.Roles)
	fmt.Printf("Expires:  %s\n", claims.ExpiresAt.Time.Format("2006-01-02 15:04:05"))
	fmt.Println()
	fmt.Printf("Authorization: Bearer %s\n", token)
}
