package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"golang.org/x/oauth2"

	"booking-chatter/internal/calendar"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: calendar-auth-helper <credentials.json> [token-path]")
	}
	credentialsFile := os.Args[1]

	credentialsData, err := os.ReadFile(credentialsFile)
	if err != nil {
		log.Fatalf("Failed to read credentials file: %v", err)
	}
	if calendar.IsServiceAccount(credentialsData) {
		log.Fatal("Service account credentials need no authorization; share the calendar with the service account instead")
	}

	credentials, err := calendar.ParseCredentials(credentialsData)
	if err != nil {
		log.Fatalf("Failed to parse credentials: %v", err)
	}
	config := calendar.OAuthConfig(credentials)

	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)

	fmt.Printf("Google Calendar OAuth2 Authorization Helper\n")
	fmt.Printf("===========================================\n")
	fmt.Printf("1. Open this URL in your browser:\n")
	fmt.Printf("   %s\n\n", authURL)
	fmt.Printf("2. Authorize the application\n")
	fmt.Printf("3. Copy the authorization code and enter it below\n\n")
	fmt.Printf("Enter the authorization code: ")

	var authCode string
	if _, err := fmt.Scan(&authCode); err != nil {
		log.Fatalf("Failed to read authorization code: %v", err)
	}

	token, err := config.Exchange(context.Background(), authCode)
	if err != nil {
		log.Fatalf("Failed to exchange code for token: %v", err)
	}

	if len(os.Args) > 2 {
		if err := calendar.SaveToken(os.Args[2], token); err != nil {
			log.Fatalf("Failed to save token: %v", err)
		}
		fmt.Printf("\nToken saved to %s\n", os.Args[2])
	}

	fmt.Printf("\nSuccessfully obtained tokens!\n")
	fmt.Printf("===========================================\n")
	fmt.Printf("Add these to your .env file:\n\n")
	fmt.Printf("GOOGLE_CALENDAR_CREDENTIALS_FILE=%s\n", credentialsFile)
	if token.RefreshToken != "" {
		fmt.Printf("GOOGLE_CALENDAR_REFRESH_TOKEN='%s'\n", token.RefreshToken)
	} else {
		fmt.Printf("# No refresh token returned; revoke the app's access and run again to get one.\n")
	}
	fmt.Printf("\nExpires: %v\n", token.Expiry)
}
