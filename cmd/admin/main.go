package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/gorm"

	"portfolio/internal/accounts"
	"portfolio/internal/auth"
	"portfolio/internal/config"
	"portfolio/internal/database"
)

const usage = `用法:
  admin create-superuser --username <name> --email <addr>
  admin blacklist add --ip <addr> [--reason <text>]
  admin blacklist remove --ip <addr>`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	config.LoadDotEnv()
	cfg := config.MustLoad()

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}

	ctx := context.Background()
	switch os.Args[1] {
	case "create-superuser":
		err = createSuperuser(ctx, db, cfg, os.Args[2:])
	case "blacklist":
		err = blacklistCommand(ctx, db, os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func createSuperuser(ctx context.Context, db *gorm.DB, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("create-superuser", flag.ExitOnError)
	username := fs.String("username", "", "管理员用户名（必填）")
	email := fs.String("email", "", "管理员邮箱（必填）")
	_ = fs.Parse(args)

	if strings.TrimSpace(*username) == "" || strings.TrimSpace(*email) == "" {
		return errors.New("missing required flag: --username and --email")
	}

	password, err := auth.RandomToken(24)
	if err != nil {
		return fmt.Errorf("generate password: %w", err)
	}
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	// 管理员账号不受邮箱域名限制。
	svc := accounts.NewService(db, nil, cfg.Accounts.VerificationTTL)
	profile, err := svc.Register(ctx, accounts.RegisterInput{
		Username:     *username,
		Email:        *email,
		PasswordHash: hashed,
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&database.Profile{}).Where("id = ?", profile.ID).Updates(map[string]any{
			"is_staff":     true,
			"is_superuser": true,
			"is_approved":  true,
			"email_valid":  true,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&database.User{}).Where("id = ?", profile.UserID).
			UpdateColumn("must_change_password", true).Error
	})
	if err != nil {
		return fmt.Errorf("grant superuser: %w", err)
	}

	fmt.Printf("已创建超级管理员账号（首次登录需强制改密）：\n")
	fmt.Printf("用户名: %s\n", profile.Username)
	fmt.Printf("初始密码: %s\n", password)
	fmt.Printf("提示：请立即登录并修改密码（该密码仅显示一次）。\n")
	return nil
}

func blacklistCommand(ctx context.Context, db *gorm.DB, args []string) error {
	if len(args) < 1 {
		return errors.New(usage)
	}
	fs := flag.NewFlagSet("blacklist "+args[0], flag.ExitOnError)
	ip := fs.String("ip", "", "IP 地址（必填）")
	reason := fs.String("reason", "", "封禁原因")
	_ = fs.Parse(args[1:])

	if strings.TrimSpace(*ip) == "" {
		return errors.New("missing required flag: --ip")
	}

	blacklist, err := accounts.NewBlacklist(db, 1, time.Second)
	if err != nil {
		return err
	}

	switch args[0] {
	case "add":
		entry, err := blacklist.Add(ctx, *ip, *reason)
		if err != nil {
			return fmt.Errorf("add %s: %w", *ip, err)
		}
		fmt.Printf("已加入黑名单: %s (%s)\n", entry.IP, entry.ID)
	case "remove":
		if err := blacklist.RemoveIP(ctx, *ip); err != nil {
			return fmt.Errorf("remove %s: %w", *ip, err)
		}
		fmt.Printf("已移出黑名单: %s\n", *ip)
	default:
		return errors.New(usage)
	}
	return nil
}
