package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"stoptrolling/internal/adapters/classifier"
	"stoptrolling/internal/adapters/repo"
	"stoptrolling/internal/adapters/xclient"
	"stoptrolling/internal/domain"
	"stoptrolling/internal/infra/cache"
	"stoptrolling/internal/infra/config"
	"stoptrolling/internal/infra/db"
	httpinfra "stoptrolling/internal/infra/http"
	logpkg "stoptrolling/internal/infra/log"
	"stoptrolling/internal/infra/metrics"
	"stoptrolling/internal/infra/openai"
	"stoptrolling/internal/infra/queue"
	"stoptrolling/internal/ledger"
	"stoptrolling/internal/usecase/digest"
	"stoptrolling/internal/usecase/oauth"
	"stoptrolling/internal/usecase/rating"
	"stoptrolling/internal/usecase/today"
	"stoptrolling/internal/usecase/token"
	"stoptrolling/internal/usecase/view"
)

func main() {
	cfg := config.Load()
	log := logpkg.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	kv := cache.NewRedis(redisClient)

	repoAdapter := repo.NewPostgres(pool)
	sessions := httpinfra.ContextSessions{}

	openaiClient := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	rater := classifier.NewOpenAIRater(openaiClient, cfg.OpenAI.Model, log.With().Str("component", "classifier").Logger())

	// Контроллер оценки ходит через HTTP-контракт, если настроен внешний
	// эндпоинт; иначе обращается к провайдеру напрямую.
	var ratingClassifier domain.Classifier = rater
	if cfg.Rating.Endpoint != "" {
		ratingClassifier = classifier.NewHTTPClient(cfg.Rating.Endpoint, cfg.Rating.Timeout)
	}

	xc := xclient.New(xclient.Options{
		ClientID:     cfg.X.ClientID,
		ClientSecret: cfg.X.ClientSecret,
		RedirectURI:  cfg.X.RedirectURI,
		BaseURL:      cfg.X.BaseURL,
		Timeout:      cfg.X.Timeout,
	})

	ledgerStore := ledger.New(kv, log.With().Str("component", "ledger").Logger())
	todaySvc := today.New(ledgerStore, repoAdapter, sessions, time.Now, log.With().Str("component", "today").Logger())
	ratingCtrl := rating.NewController(
		rating.NewService(ratingClassifier, repoAdapter),
		todaySvc,
		rating.SettleDuration,
		log.With().Str("component", "rating").Logger(),
	)
	defer ratingCtrl.Stop()
	oauthFlow := oauth.NewFlow(kv, xc, repoAdapter, sessions, cfg.X.ClientID, cfg.X.RedirectURI, log.With().Str("component", "oauth").Logger())
	tokenMgr := token.NewManager(repoAdapter, xc, time.Now, log.With().Str("component", "token").Logger())

	var postQueue domain.PostQueue
	if cfg.AMQPURL != "" {
		amqpQueue, err := queue.NewAMQPPostQueue(cfg.AMQPURL, cfg.Digest.QueueName)
		if err != nil {
			log.Fatal().Err(err).Msg("api: нет подключения к AMQP")
		}
		defer amqpQueue.Close()
		postQueue = amqpQueue
	} else {
		postQueue = queue.NewRedisPostQueue(redisClient, cfg.Digest.QueueName)
	}

	scheduler := digest.NewScheduler(
		repoAdapter, repoAdapter, tokenMgr, kv, postQueue, xc,
		cfg.Digest.WindowMinutes, time.Now,
		log.With().Str("component", "digest").Logger(),
	)

	server := httpinfra.NewServer(log)
	r := server.Router

	r.Get("/auth/x/login", func(w http.ResponseWriter, req *http.Request) {
		res, err := oauthFlow.Begin()
		if err != nil {
			log.Error().Err(err).Msg("api: не удалось начать OAuth-поток")
			writeError(w, http.StatusInternalServerError, "oauth_begin_failed")
			return
		}
		setPkceCookie(w, req, "x_oauth_state", res.State)
		setPkceCookie(w, req, "x_pkce_verifier", res.Verifier)
		http.Redirect(w, req, res.URL, http.StatusFound)
	})

	r.Group(func(cb chi.Router) {
		cb.Use(httpinfra.OptionalSessionMiddleware(cfg.SessionSecret))
		cb.Get("/auth/x/callback", func(w http.ResponseWriter, req *http.Request) {
			params := oauth.CallbackParams{
				Code:           req.URL.Query().Get("code"),
				State:          req.URL.Query().Get("state"),
				CookieState:    cookieValue(req, "x_oauth_state"),
				CookieVerifier: cookieValue(req, "x_pkce_verifier"),
			}
			clearPkceCookie(w, "x_oauth_state")
			clearPkceCookie(w, "x_pkce_verifier")
			target, err := oauthFlow.Callback(req.Context(), params)
			if err != nil {
				log.Warn().Err(err).Msg("api: OAuth-callback завершился с маркером")
			}
			http.Redirect(w, req, target, http.StatusFound)
		})
	})

	// Контракт всегда-200: любой внутренний сбой деградирует в ok=true,
	// 400 только на отсутствующую запись.
	r.Post("/api/rate-log", func(w http.ResponseWriter, req *http.Request) {
		defer req.Body.Close()
		var body struct {
			Log  string `json:"log"`
			Goal string `json:"goal"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || strings.TrimSpace(body.Log) == "" {
			writeError(w, http.StatusBadRequest, `missing "log" string`)
			return
		}
		verdict, _ := rater.Rate(req.Context(), body.Log, body.Goal)
		writeJSON(w, verdict)
	})

	r.Group(func(protected chi.Router) {
		protected.Use(httpinfra.SessionMiddleware(cfg.SessionSecret))

		protected.Post("/api/day/init", func(w http.ResponseWriter, req *http.Request) {
			res, err := todaySvc.Init(req.Context())
			if err != nil {
				log.Error().Err(err).Msg("api: init дня не удался")
				writeError(w, http.StatusInternalServerError, "day_init_failed")
				return
			}
			writeJSON(w, map[string]any{
				"user_id": res.UserID,
				"day":     map[string]string{"id": res.Day.ID, "date": res.Day.Date, "goal": res.Day.Goal},
				"record":  res.Record,
			})
		})

		protected.Put("/api/day/goal", func(w http.ResponseWriter, req *http.Request) {
			defer req.Body.Close()
			var body struct {
				DayID string `json:"day_id"`
				Goal  string `json:"goal"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.DayID == "" {
				writeError(w, http.StatusBadRequest, "day_id is required")
				return
			}
			if err := todaySvc.SaveGoal(req.Context(), body.DayID, body.Goal); err != nil {
				log.Error().Err(err).Msg("api: не удалось сохранить цель")
				writeError(w, http.StatusInternalServerError, "goal_save_failed")
				return
			}
			writeJSON(w, map[string]string{"status": "ok"})
		})

		protected.Put("/api/day/hour", func(w http.ResponseWriter, req *http.Request) {
			defer req.Body.Close()
			var body struct {
				DayID     string `json:"day_id"`
				StartHour int    `json:"start_hour"`
				Body      string `json:"body"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.DayID == "" {
				writeError(w, http.StatusBadRequest, "day_id is required")
				return
			}
			if err := todaySvc.SaveHour(req.Context(), body.DayID, body.StartHour, body.Body); err != nil {
				log.Error().Err(err).Msg("api: не удалось сохранить час")
				writeError(w, http.StatusInternalServerError, "hour_save_failed")
				return
			}
			writeJSON(w, map[string]string{"status": "ok"})
		})

		protected.Post("/api/day/rate", func(w http.ResponseWriter, req *http.Request) {
			defer req.Body.Close()
			var body struct {
				DayID     string `json:"day_id"`
				StartHour int    `json:"start_hour"`
				Body      string `json:"body"`
				Goal      string `json:"goal"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.DayID == "" {
				writeError(w, http.StatusBadRequest, "day_id is required")
				return
			}
			aligned, err := ratingCtrl.RateAndPatch(req.Context(), body.DayID, body.StartHour, body.Body, body.Goal)
			switch {
			case errors.Is(err, rating.ErrEmptyLog):
				writeError(w, http.StatusBadRequest, "empty log")
				return
			case errors.Is(err, classifier.ErrTransport):
				writeError(w, http.StatusBadGateway, "rating transport error")
				return
			case err != nil:
				log.Error().Err(err).Msg("api: оценка не удалась")
				writeError(w, http.StatusInternalServerError, "rating_failed")
				return
			}
			writeJSON(w, map[string]any{"aligned": aligned})
		})

		protected.Get("/api/day/rating-status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, ratingCtrl.StatusSnapshot())
		})

		protected.Get("/api/day/view", func(w http.ResponseWriter, req *http.Request) {
			now := time.Now()
			todayKey := todaySvc.TodayKey()
			rec, ok := ledgerStore.Get(todayKey)
			if !ok {
				var err error
				rec, err = ledgerStore.Ensure(todayKey)
				if err != nil {
					writeError(w, http.StatusInternalServerError, "ledger_failed")
					return
				}
			}
			index, hasIndex := view.CurrentIndex(rec, todayKey, now)
			resp := map[string]any{
				"quiet_hours":       view.IsQuietHours(now),
				"countdown":         view.CountdownToMorning(now),
				"status_text":       view.StatusText(rec, todayKey, now),
				"slot_label":        view.SlotLabel(rec, todayKey, now),
				"should_show_input": view.ShouldShowInput(rec, todayKey, now),
			}
			if hasIndex {
				resp["current_index"] = index
			}
			writeJSON(w, resp)
		})

		protected.Post("/api/x/tweet", handleTweet(tokenMgr, xc, log))
	})

	r.Post("/api/cron/post-dailies", func(w http.ResponseWriter, req *http.Request) {
		if !cronAuthorized(req, cfg.CronSecret) {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		var body struct {
			DryRun       bool   `json:"dry_run"`
			DateOverride string `json:"date_override"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)
		report, err := scheduler.Run(req.Context(), digest.RunOptions{DryRun: body.DryRun, DateOverride: body.DateOverride})
		if err != nil {
			log.Error().Err(err).Msg("api: запуск планировщика не удался")
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, report)
	})

	metrics.StartServer(ctx, log.With().Str("component", "metrics").Logger(), ":9090")
	if err := server.Start(ctx, fmt.Sprintf(":%d", cfg.Port)); err != nil {
		log.Error().Err(err).Msg("api: сервер остановлен с ошибкой")
	}
	log.Info().Msg("api: остановка")
}

func handleTweet(tokenMgr *token.Manager, xc *xclient.Client, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		defer req.Body.Close()
		userID, ok := httpinfra.UserIDFromContext(req.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "auth_required")
			return
		}
		var body struct {
			Image string `json:"image"`
			Text  string `json:"text"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_payload")
			return
		}
		if body.Image == "" {
			writeError(w, http.StatusBadRequest, "image_required")
			return
		}

		rec, err := tokenMgr.EnsureFresh(req.Context(), userID)
		switch {
		case errors.Is(err, token.ErrNoTokens):
			writeError(w, http.StatusConflict, "tokens_missing")
			return
		case errors.Is(err, token.ErrRefreshUnavailable):
			writeError(w, http.StatusUnauthorized, "refresh_unavailable")
			return
		case errors.Is(err, token.ErrRefreshFailed):
			writeError(w, http.StatusUnauthorized, "refresh_failed")
			return
		case err != nil:
			log.Error().Err(err).Msg("api: не удалось получить токены")
			writeError(w, http.StatusInternalServerError, "token_lookup_failed")
			return
		}

		mediaID, err := xc.UploadMedia(req.Context(), rec.AccessToken, body.Image)
		if err != nil {
			log.Error().Err(err).Msg("api: загрузка медиа не удалась")
			writeError(w, apiErrStatus(err), "media_upload_failed")
			return
		}

		tweet, err := xc.Post(req.Context(), rec.AccessToken, body.Text, mediaID)
		if err != nil {
			log.Error().Err(err).Msg("api: публикация твита не удалась")
			writeError(w, apiErrStatus(err), "tweet_failed")
			return
		}
		writeJSON(w, map[string]any{"success": true, "tweet": json.RawMessage(tweet)})
	}
}

// apiErrStatus переводит ошибку X API в статус ответа: 401 пробрасывается,
// остальное считается сбоем шлюза.
func apiErrStatus(err error) int {
	var apiErr *xclient.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		return http.StatusUnauthorized
	}
	return http.StatusBadGateway
}

func cronAuthorized(req *http.Request, secret string) bool {
	if secret == "" {
		return false
	}
	if req.Header.Get("x-cron-secret") == secret {
		return true
	}
	h := req.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(h), "bearer ") && strings.TrimSpace(h[7:]) == secret {
		return true
	}
	return false
}

func setPkceCookie(w http.ResponseWriter, req *http.Request, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(oauth.StateTTL.Seconds()),
		SameSite: http.SameSiteLaxMode,
		HttpOnly: true,
		Secure:   req.TLS != nil,
	})
}

func clearPkceCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1})
}

func cookieValue(req *http.Request, name string) string {
	if c, err := req.Cookie(name); err == nil {
		return c.Value
	}
	return ""
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
