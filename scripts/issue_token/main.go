package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/noah-isme/wa-attendance-api/internal/models"
	"github.com/noah-isme/wa-attendance-api/internal/service"
	"github.com/noah-isme/wa-attendance-api/pkg/config"
	"github.com/noah-isme/wa-attendance-api/pkg/logger"
)

// issue_token prints a bearer token for the admin API signed with JWT_SECRET.
func main() {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	flag.StringVar(&subject, "subject", "operator", "User ID placed in the token")
	flag.StringVar(&role, "role", string(models.RoleOperator), "ADMIN or OPERATOR")
	flag.DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to JWT_EXPIRATION)")
	flag.Parse()

	userRole := models.UserRole(strings.ToUpper(strings.TrimSpace(role)))
	if userRole != models.RoleAdmin && userRole != models.RoleOperator {
		log.Fatalf("unsupported role %q", role)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	auth := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	token, expiresAt, err := auth.IssueToken(subject, userRole, ttl)
	if err != nil {
		log.Fatalf("failed to issue token: %v", err)
	}

	fmt.Fprintf(os.Stderr, "role=%s subject=%s expires=%s\n", userRole, subject, expiresAt.Format(time.RFC3339))
	fmt.Println(token)
}
