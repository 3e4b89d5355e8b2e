// Package app wires configuration into the repositories and services shared
// by the server, the worker and the command line tool.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/unclebandit/newsletter-backend/internal/archive"
	"github.com/unclebandit/newsletter-backend/internal/bounce"
	"github.com/unclebandit/newsletter-backend/internal/config"
	"github.com/unclebandit/newsletter-backend/internal/controller"
	"github.com/unclebandit/newsletter-backend/internal/db"
	"github.com/unclebandit/newsletter-backend/internal/handler"
	"github.com/unclebandit/newsletter-backend/internal/lock"
	"github.com/unclebandit/newsletter-backend/internal/mailbox"
	"github.com/unclebandit/newsletter-backend/internal/mailer"
	"github.com/unclebandit/newsletter-backend/internal/mailparse"
	"github.com/unclebandit/newsletter-backend/internal/queue"
	"github.com/unclebandit/newsletter-backend/internal/repository"
	"github.com/unclebandit/newsletter-backend/internal/service"
)

// NewLogger builds the process logger. The returned LevelVar can be
// changed after startup.
func NewLogger(level slog.Level) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(level)
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
	return log, lv
}

type App struct {
	Config *config.Config
	DB     *sql.DB
	Log    *slog.Logger

	Locker lock.Locker
	Queue  queue.Queue

	Rules     repository.BounceRegexRepositoryInterface
	Resolver  *bounce.ActionResolver
	Campaigns *service.CampaignService
	Delivery  *service.DeliveryWorker
	Bounces   *service.BounceService

	redis   *redis.Client
	closers []func() error
}

// New connects to the database and every configured backend. Callers must
// Close the result.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	database, err := db.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: database, Log: log}
	a.closers = append(a.closers, database.Close)

	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	cfg := a.Config
	log := a.Log

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opt)
		a.closers = append(a.closers, a.redis.Close)
	}

	switch cfg.LockBackend {
	case "memory":
		a.Locker = lock.NewMemoryLocker()
	case "redis":
		if a.redis == nil {
			return errors.New("redis lock backend without REDIS_URL")
		}
		a.Locker = &lock.RedisLocker{Client: a.redis}
	default:
		a.Locker = &lock.PostgresLocker{DB: a.DB}
	}

	switch cfg.QueueBackend {
	case "amqp":
		q, err := queue.DialAMQP(cfg.AMQPURL, log)
		if err != nil {
			return err
		}
		a.Queue = q
		a.closers = append(a.closers, q.Close)
		log.Info("🐇 Connected to RabbitMQ")
	default:
		a.Queue = queue.NewInMemoryQueue(log)
	}

	subscribers := &repository.SubscriberRepository{DB: a.DB}
	campaigns := &repository.CampaignRepository{DB: a.DB}
	userMessages := &repository.UserMessageRepository{DB: a.DB}
	bounces := &repository.BounceRepository{DB: a.DB}
	rules := &repository.BounceRegexRepository{DB: a.DB}
	members := &bounce.SubscriberActions{
		Subscribers: subscribers,
		History:     &repository.HistoryRepository{DB: a.DB},
		Blacklist:   &repository.BlacklistRepository{DB: a.DB},
	}
	a.Rules = rules
	a.Resolver = bounce.NewDefaultResolver(members, bounces, log)

	a.Campaigns = &service.CampaignService{
		CampaignRepo: campaigns,
		Queue:        a.Queue,
		Locker:       a.Locker,
		Log:          log,
	}

	var sizes mailer.SizeCache = mailer.NewMemorySizeCache()
	if a.redis != nil {
		sizes = &mailer.RedisSizeCache{Client: a.redis}
	}
	var limiter *rate.Limiter
	if cfg.Delivery.SendRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Delivery.SendRate), cfg.Delivery.SendBurst)
	}
	a.Delivery = &service.DeliveryWorker{
		Campaigns:      campaigns,
		Subscribers:    subscribers,
		UserMessages:   userMessages,
		EventLog:       &repository.EventLogRepository{DB: a.DB},
		Members:        members,
		Renderer:       mailer.NewRenderer(),
		Sender:         &mailer.SMTPSender{Config: cfg.SMTP},
		Sizes:          sizes,
		Locker:         a.Locker,
		Limiter:        limiter,
		Requeue:        &service.RequeueHandler{Log: log},
		MaxProcessTime: cfg.Delivery.MaxProcessTime,
		MaxMailSize:    cfg.Delivery.MaxMailSize,
		Log:            log,
	}

	a.Bounces = &service.BounceService{
		Locker: a.Locker,
		Openers: map[string]mailbox.Opener{
			"pop":  &mailbox.POP3Opener{Config: cfg.Bounce.POP3, Log: log},
			"imap": &mailbox.IMAPOpener{Config: cfg.Bounce.IMAP, Log: log},
			"mbox": &mailbox.MboxOpener{Log: log},
		},
		Mailboxes: bounce.SplitMailboxes(cfg.Bounce.Mailboxes),
		Parser:    &mailparse.Parser{Subscribers: subscribers},
		Bounces:   bounces,
		Processor: &bounce.DataProcessor{
			Bounces:     bounces,
			Campaigns:   campaigns,
			Subscribers: subscribers,
			Members:     members,
			Log:         log,
		},
		Rules: &bounce.RuleEngine{
			Rules:       rules,
			Bounces:     bounces,
			Subscribers: subscribers,
			Resolver:    a.Resolver,
			Log:         log,
		},
		Escalation: &bounce.ConsecutiveBounceHandler{
			Subscribers:          subscribers,
			UserMessages:         userMessages,
			Members:              members,
			UnsubscribeThreshold: cfg.Bounce.UnsubscribeThreshold,
			BlacklistThreshold:   cfg.Bounce.BlacklistThreshold,
			Log:                  log,
		},
		PurgeProcessed: cfg.Bounce.PurgeProcessed,
		MaxMessages:    cfg.Bounce.MaxMessages,
		Log:            log,
	}
	if cfg.ArchiveEnabled() {
		archiver, err := archive.NewS3Archiver(cfg.Archive)
		if err != nil {
			return err
		}
		a.Bounces.Archiver = archiver
		log.Info("🗄️ Archiving purged bounces", "bucket", cfg.Archive.Bucket)
	}
	return nil
}

// ProcessOptions are the bounce run options implied by the configuration.
func (a *App) ProcessOptions() service.ProcessOptions {
	return service.ProcessOptions{
		Protocol:         a.Config.Bounce.Protocol,
		PurgeUnprocessed: a.Config.Bounce.PurgeUnprocessed,
		RulesBatchSize:   a.Config.Bounce.RulesBatchSize,
	}
}

// Router builds the HTTP API.
func (a *App) Router() http.Handler {
	return controller.NewRouter(
		&controller.CampaignController{CampaignService: a.Campaigns, Log: a.Log},
		handler.NewCampaignHandler(a.Campaigns, a.Log),
		&controller.BounceController{
			Processor: a.Bounces,
			Rules:     a.Rules,
			Defaults:  a.ProcessOptions(),
			Log:       a.Log,
		},
	)
}

// RunScheduler enqueues due campaigns every interval until ctx ends.
func (a *App) RunScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := a.Campaigns.EnqueueDue(ctx); err != nil && ctx.Err() == nil {
			a.Log.Error("⚠️ Scheduler run failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close releases every connection New opened, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
