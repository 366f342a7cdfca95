// Command devtoken mints a signed session token for local testing.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"chirpchat/internal/auth"
	"chirpchat/internal/models"
)

func main() {
	_ = godotenv.Load()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	secret := flag.String("secret", envOr("JWT_SECRET", "dev-secret"), "HS256 signing secret")
	userID := flag.String("user", "", "user id, generated when empty")
	email := flag.String("email", "", "user email (required)")
	name := flag.String("name", "", "display name")
	image := flag.String("image", "", "avatar url")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *email == "" {
		logger.Fatal().Msg("-email is required")
	}
	if *userID == "" {
		*userID = models.NewID()
	} else if !models.ValidID(*userID) {
		logger.Fatal().Str("user", *userID).Msg("user id must be a 24-character hex object id")
	}

	token, err := auth.NewVerifier(*secret).Issue(auth.Session{
		UserID: *userID,
		Email:  *email,
		Name:   *name,
		Image:  *image,
	}, *ttl)
	if err != nil {
		logger.Fatal().Err(err).Msg("sign token")
	}

	logger.Info().Str("user_id", *userID).Str("email", *email).Dur("ttl", *ttl).Msg("token issued")
	fmt.Println(token)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
