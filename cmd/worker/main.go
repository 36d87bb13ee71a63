package main

import (
	"log"

	"github.com/saeid-a/ChambaBack/internal/config"
	"github.com/saeid-a/ChambaBack/internal/notify"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.WebhookURL == "" {
		log.Fatal("WEBHOOK_URL is required")
	}
	if cfg.RedisURL == "" {
		log.Fatal("REDIS_URL is required")
	}

	opt, err := notify.NewRedisClientOpt(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to parse redis url: %v", err)
	}

	webhook := notify.NewWebhookClient(cfg.WebhookURL, cfg.WebhookSecret, cfg.WebhookTimeout)
	server := notify.NewServer(opt, cfg.WorkerConcurrency)

	log.Printf("Webhook worker starting (concurrency %d)", cfg.WorkerConcurrency)
	// Run blocks until SIGTERM or SIGINT and drains in-flight tasks.
	if err := server.Run(notify.NewServeMux(webhook)); err != nil {
		log.Fatalf("Webhook worker failed: %v", err)
	}
}
