// Command devtoken mints access tokens signed with the configured JWT secret
// for local development against the API.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/noah-isme/bimestre-scheduler-api/internal/models"
	"github.com/noah-isme/bimestre-scheduler-api/internal/service"
	"github.com/noah-isme/bimestre-scheduler-api/pkg/config"
)

func main() {
	var (
		userID string
		role   string
		ttl    time.Duration
	)
	flag.StringVar(&userID, "user", "", "User ID placed in the token")
	flag.StringVar(&role, "role", string(models.RoleViewer), "ADMIN, EDITOR or VIEWER")
	flag.DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	flag.Parse()

	if userID == "" {
		log.Fatal("-user is required")
	}
	userRole := models.UserRole(strings.ToUpper(role))
	switch userRole {
	case models.RoleAdmin, models.RoleEditor, models.RoleViewer:
	default:
		log.Fatalf("unknown role %q", role)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Env == config.EnvProduction {
		log.Fatal("refusing to mint tokens in production")
	}

	tokens := service.NewTokenService(service.TokenConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	})
	token, err := tokens.IssueToken(userID, userRole, ttl)
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}
	fmt.Println(token)
}
