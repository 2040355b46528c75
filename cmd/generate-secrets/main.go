package main

import (
	"fmt"
	"log"

	"github.com/smarttransit/booking-engine/internal/utils"
)

func main() {
	fmt.Println("===========================================")
	fmt.Println("Secret Generator for SmartTransit Booking")
	fmt.Println("===========================================")
	fmt.Println()

	jwtSecret, webhookSecret, err := utils.GenerateServiceSecrets()
	if err != nil {
		log.Fatalf("Failed to generate secrets: %v", err)
	}

	fmt.Println("Add these to your .env file:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", jwtSecret)
	fmt.Printf("PAYMENT_WEBHOOK_SECRET=%s\n", webhookSecret)
	fmt.Println()
	fmt.Println("The webhook secret must match the one configured in the payment gateway dashboard.")
	fmt.Println("Keep these secrets safe and never commit them to version control!")
	fmt.Println("===========================================")
}
