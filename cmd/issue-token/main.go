// Package main 为店员或顾客签发访问令牌。
// 账号体系由外部系统维护，本工具用于运维与联调。
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/MorseWayne/moto_shop/internal/config"
	"github.com/MorseWayne/moto_shop/internal/domain"
	"github.com/MorseWayne/moto_shop/internal/logger"
	"github.com/MorseWayne/moto_shop/internal/service"
)

func main() {
	var (
		userID   = flag.Int64("user-id", 0, "User ID carried in the token")
		username = flag.String("username", "", "Username recorded as actor in ledger and refund entries")
		role     = flag.String("role", string(domain.RoleStaff), "Role: customer, staff, admin")
	)
	flag.Parse()

	if *username == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -username=<name> [-user-id=<id>] [-role=customer|staff|admin]\n", os.Args[0])
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.JWT.Secret == "" {
		log.Fatal("JWT_SECRET must be set to issue tokens")
	}

	lg, err := logger.New(cfg.App.Env, cfg.Log.Level, cfg.Log.Encoding, "issue-token", cfg.App.Version)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	tokens := service.NewTokenService(cfg, lg)
	token, err := tokens.IssueAccessToken(domain.Actor{
		UserID:   *userID,
		Username: *username,
		Role:     domain.Role(*role),
	})
	if err != nil {
		lg.Sugar().Fatalw("failed to issue token", "error", err)
	}
	fmt.Println(token)
}
