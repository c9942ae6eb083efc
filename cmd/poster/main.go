package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"stoptrolling/internal/adapters/repo"
	"stoptrolling/internal/adapters/xclient"
	"stoptrolling/internal/domain"
	"stoptrolling/internal/infra/config"
	"stoptrolling/internal/infra/db"
	logpkg "stoptrolling/internal/infra/log"
	"stoptrolling/internal/infra/metrics"
	"stoptrolling/internal/infra/queue"
	"stoptrolling/internal/usecase/token"
)

const maxAttempts = 5

func main() {
	cfg := config.Load()
	log := logpkg.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("poster: нет подключения к БД")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	var postQueue domain.PostQueue
	if cfg.AMQPURL != "" {
		amqpQueue, err := queue.NewAMQPPostQueue(cfg.AMQPURL, cfg.Digest.QueueName)
		if err != nil {
			log.Fatal().Err(err).Msg("poster: нет подключения к AMQP")
		}
		defer amqpQueue.Close()
		postQueue = amqpQueue
	} else {
		postQueue = queue.NewRedisPostQueue(redisClient, cfg.Digest.QueueName)
	}

	repoAdapter := repo.NewPostgres(pool)
	xc := xclient.New(xclient.Options{
		ClientID:     cfg.X.ClientID,
		ClientSecret: cfg.X.ClientSecret,
		RedirectURI:  cfg.X.RedirectURI,
		BaseURL:      cfg.X.BaseURL,
		Timeout:      cfg.X.Timeout,
	})
	tokenMgr := token.NewManager(repoAdapter, xc, time.Now, log.With().Str("component", "token").Logger())

	metrics.StartServer(ctx, log.With().Str("component", "metrics").Logger(), ":9090")

	log.Info().Str("queue", cfg.Digest.QueueName).Msg("poster: старт")
	for {
		job, err := postQueue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error().Err(err).Msg("poster: ошибка чтения из очереди")
			time.Sleep(time.Second)
			continue
		}
		processJob(ctx, log, tokenMgr, xc, postQueue, job)
	}
	log.Info().Msg("poster: остановка")
}

// processJob пытается опубликовать отложенный итог. Перманентные отказы
// (нет токенов, 4xx от X) задачу хоронят, временные — возвращают в очередь
// с инкрементом попытки.
func processJob(ctx context.Context, log zerolog.Logger, tokenMgr *token.Manager, xc *xclient.Client, postQueue domain.PostQueue, job domain.PostJob) {
	jobLog := log.With().Str("job_id", job.ID).Str("user_id", job.UserID).Str("date", job.Date).Int("attempt", job.Attempt).Logger()

	rec, err := tokenMgr.EnsureFresh(ctx, job.UserID)
	if err != nil {
		jobLog.Warn().Err(err).Msg("poster: токены недоступны, задача похоронена")
		metrics.IncDigestPost("dropped")
		return
	}

	_, err = xc.Post(ctx, rec.AccessToken, job.Text)
	if err == nil {
		jobLog.Info().Msg("poster: итог опубликован")
		metrics.IncDigestPost("retried_ok")
		return
	}

	var apiErr *xclient.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests {
		jobLog.Warn().Err(err).Msg("poster: X отклонил пост, повторять бессмысленно")
		metrics.IncDigestPost("dropped")
		return
	}

	if job.Attempt >= maxAttempts {
		jobLog.Error().Err(err).Msg("poster: исчерпаны попытки публикации")
		metrics.IncDigestPost("exhausted")
		return
	}

	// Линейная задержка перед возвратом в очередь.
	select {
	case <-time.After(time.Duration(job.Attempt) * time.Second):
	case <-ctx.Done():
		return
	}
	job.Attempt++
	if err := postQueue.Enqueue(ctx, job); err != nil {
		jobLog.Error().Err(err).Msg("poster: не удалось вернуть задачу в очередь")
		return
	}
	jobLog.Warn().Err(err).Msg("poster: временный сбой, задача возвращена в очередь")
}
