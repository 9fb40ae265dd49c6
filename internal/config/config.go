package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type AppConfig struct {
	ListenAddr string

	// Moderation.
	AdminUsers     []string
	AdminOverrides map[string]string // actor -> privileged target the actor may ban
	ExemptUser     string

	// Optional backing services.
	RedisURL         string
	DatabaseURL      string
	ReportWebhookURL string

	// Connection housekeeping.
	IdleTimeoutSec int
	MinUsernameLen int

	// Anti-abuse heuristics.
	MinMoveIntervalMs  int
	MinChatIntervalMs  int
	SuspicionWindowSec int
	ReportThreshold    int
	BanConfidence      int
	MinDistinctKinds   int

	MsgOverrideDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:         ":8420",
		AdminOverrides:     map[string]string{},
		IdleTimeoutSec:     300,
		MinUsernameLen:     3,
		MinMoveIntervalMs:  500,
		MinChatIntervalMs:  300,
		SuspicionWindowSec: 60,
		ReportThreshold:    10,
		BanConfidence:      70,
		MinDistinctKinds:   3,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}

	for _, p := range strings.Split(os.Getenv("ADMIN_USERS"), ",") {
		if s := strings.ToLower(strings.TrimSpace(p)); s != "" {
			cfg.AdminUsers = append(cfg.AdminUsers, s)
		}
	}

	// ADMIN_OVERRIDES is "actor:target,actor:target"; each pair lets an admin
	// ban the named privileged target.
	if v := strings.TrimSpace(os.Getenv("ADMIN_OVERRIDES")); v != "" {
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			actor, target, ok := strings.Cut(p, ":")
			if !ok || strings.TrimSpace(actor) == "" || strings.TrimSpace(target) == "" {
				return nil, fmt.Errorf("ADMIN_OVERRIDES: malformed pair %q", p)
			}
			cfg.AdminOverrides[strings.ToLower(strings.TrimSpace(actor))] = strings.ToLower(strings.TrimSpace(target))
		}
	}

	cfg.ExemptUser = strings.ToLower(strings.TrimSpace(os.Getenv("EXEMPT_USER")))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.ReportWebhookURL = strings.TrimSpace(os.Getenv("REPORT_WEBHOOK_URL"))
	cfg.MsgOverrideDir = strings.TrimSpace(os.Getenv("MSG_OVERRIDE_DIR"))

	intVar(&cfg.IdleTimeoutSec, "IDLE_TIMEOUT_SEC")
	intVar(&cfg.MinUsernameLen, "MIN_USERNAME_LEN")
	intVar(&cfg.MinMoveIntervalMs, "MIN_MOVE_INTERVAL_MS")
	intVar(&cfg.MinChatIntervalMs, "MIN_CHAT_INTERVAL_MS")
	intVar(&cfg.SuspicionWindowSec, "SUSPICION_WINDOW_SEC")
	intVar(&cfg.ReportThreshold, "REPORT_THRESHOLD")
	intVar(&cfg.BanConfidence, "BAN_CONFIDENCE")
	intVar(&cfg.MinDistinctKinds, "MIN_DISTINCT_KINDS")

	return cfg, nil
}

func intVar(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}
