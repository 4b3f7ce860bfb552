// Command worker runs one pipeline role's consume-handle-commit loop as
// its own replicated process (spec.md §6's per-process worker CLI). Which
// role, how many concurrent deliveries, and which Store/Event Log to bind
// to are all environment-driven so the same binary deploys as every role.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/excproc/pkg/config"
	"github.com/codeready-toolchain/excproc/pkg/eventlog"
	"github.com/codeready-toolchain/excproc/pkg/eventlog/memory"
	"github.com/codeready-toolchain/excproc/pkg/eventlog/redisstream"
	"github.com/codeready-toolchain/excproc/pkg/notify"
	"github.com/codeready-toolchain/excproc/pkg/retry"
	"github.com/codeready-toolchain/excproc/pkg/roles"
	"github.com/codeready-toolchain/excproc/pkg/sla"
	"github.com/codeready-toolchain/excproc/pkg/store"
	"github.com/codeready-toolchain/excproc/pkg/tool"
	"github.com/codeready-toolchain/excproc/pkg/version"
	"github.com/codeready-toolchain/excproc/pkg/worker"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func main() {
	os.Exit(run())
}

// run returns the process exit code per spec.md §6: 0 clean shutdown, 1
// config error, 2 unrecoverable runtime error.
func run() int {
	envPath := filepath.Join(getEnv("CONFIG_DIR", "./deploy/config"), ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("no .env file loaded", "path", envPath, "error", err)
	}

	role := os.Getenv("WORKER_ROLE")
	if role == "" {
		slog.Error("WORKER_ROLE is required")
		return 1
	}

	concurrency := getEnvInt("CONCURRENCY", 4)
	groupVariant := getEnv("GROUP_ID", "")
	healthPort := getEnvInt("HEALTH_PORT", 8081)

	slog.Info("starting worker", "version", version.Full(), "role", role, "concurrency", concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(os.Getenv("STORE_URL"))
	if err != nil {
		slog.Error("failed to open store", "error", err)
		return 1
	}
	defer st.Close()

	log, err := openEventLog(os.Getenv("BROKER_BOOTSTRAP"))
	if err != nil {
		slog.Error("failed to open event log", "error", err)
		return 1
	}

	registry := newRegistry()
	notifier := newNotifier()

	rt, runExtra, err := buildRuntime(ctx, role, groupVariant, concurrency, st, log, registry, notifier)
	if err != nil {
		slog.Error("failed to build runtime for role", "role", role, "error", err)
		return 1
	}

	healthSrv := &http.Server{Handler: worker.NewHealthServer(rt.runtimes...).Handler()}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", healthPort))
	if err != nil {
		slog.Error("failed to bind health port", "port", healthPort, "error", err)
		return 1
	}
	go func() {
		if err := healthSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("health server failed", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- rt.run(ctx) }()
	if runExtra != nil {
		go func() {
			if err := runExtra(ctx); err != nil && ctx.Err() == nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			slog.Error("worker run loop failed", "error", err)
			_ = healthSrv.Shutdown(context.Background())
			return 2
		}
	}

	slog.Info("shutting down worker", "role", role)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = healthSrv.Shutdown(shutdownCtx)
	rt.stop()
	return 0
}

// roleRuntime bundles the one or more worker.Runtime instances a single
// WORKER_ROLE maps to (every pipeline role maps to exactly one; the
// ambient sla/retry/outbox roles run their own background loop instead).
type roleRuntime struct {
	runtimes []*worker.Runtime
}

func (r *roleRuntime) run(ctx context.Context) error {
	if len(r.runtimes) == 0 {
		<-ctx.Done()
		return nil
	}
	errCh := make(chan error, len(r.runtimes))
	for _, rt := range r.runtimes {
		go func(rt *worker.Runtime) { errCh <- rt.Run(ctx) }(rt)
	}
	var firstErr error
	for range r.runtimes {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *roleRuntime) stop() {
	for _, rt := range r.runtimes {
		rt.Stop()
	}
}

// buildRuntime constructs the role.Handler, its consumer group, and
// (where a role needs one) an extra background loop that isn't itself a
// worker.Runtime consumer — the outbox dispatcher, SLA monitor, and retry
// controller all poll/consume on their own terms rather than through the
// generic per-envelope Runtime loop.
func buildRuntime(ctx context.Context, role, variant string, concurrency int, st store.Store, log eventlogBackend, registry *config.Registry, notifier *notify.Service) (*roleRuntime, func(context.Context) error, error) {
	consumerName := hostnameOrDefault()

	newConsumer := func(topic, group string) (eventlog.Consumer, error) {
		return log.Consumer(ctx, topic, group, consumerName)
	}

	switch role {
	case "intake":
		return wrapSingle(singleRuntime(roles.Intake{}, eventlog.TopicExceptionsIngested, variant, concurrency, newConsumer, log, st, registry, notifier))
	case "triage":
		return wrapSingle(singleRuntime(roles.Triage{}, eventlog.TopicExceptionsNormalized, variant, concurrency, newConsumer, log, st, registry, notifier))
	case "policy":
		return wrapSingle(singleRuntime(roles.Policy{}, eventlog.TopicTriageCompleted, variant, concurrency, newConsumer, log, st, registry, notifier))
	case "playbook":
		return wrapSingle(singleRuntime(roles.Playbook{}, eventlog.TopicPolicyCompleted, variant, concurrency, newConsumer, log, st, registry, notifier))
	case "step":
		return wrapSingle(singleRuntime(roles.Step{}, eventlog.TopicStepRequested, variant, concurrency, newConsumer, log, st, registry, notifier))
	case "tool":
		toolClient := tool.NewClient()
		invoker := tool.NewInvoker(toolClient)
		return wrapSingle(singleRuntime(roles.Tool{Invoker: invoker}, eventlog.TopicToolRequested, variant, concurrency, newConsumer, log, st, registry, notifier))
	case "feedback":
		return wrapSingle(singleRuntime(roles.Feedback{}, eventlog.TopicFeedbackCaptured, variant, concurrency, newConsumer, log, st, registry, notifier))
	case "sla":
		monitor := sla.NewMonitor(st, sla.Config{})
		return &roleRuntime{}, func(ctx context.Context) error {
			monitor.Start(ctx)
			<-ctx.Done()
			monitor.Stop()
			return nil
		}, nil
	case "outbox":
		dispatcher := worker.NewOutboxDispatcher(st, log)
		return &roleRuntime{}, dispatcher.Run, nil
	case "retry":
		consumer, err := newConsumer(eventlog.TopicControlRetry, eventlog.GroupID("retry", variant))
		if err != nil {
			return nil, nil, fmt.Errorf("worker: open retry consumer: %w", err)
		}
		ctrl := &retry.Controller{Store: st, Publisher: log, Consumer: consumer, Default: retry.DefaultPolicy()}
		return &roleRuntime{}, ctrl.Run, nil
	default:
		return nil, nil, fmt.Errorf("worker: unknown WORKER_ROLE %q", role)
	}
}

type eventlogBackend interface {
	eventlog.Publisher
	eventlog.ConsumerFactory
}

// wrapSingle adapts singleRuntime's (*roleRuntime, error) into buildRuntime's
// three-value return shape.
func wrapSingle(rt *roleRuntime, err error) (*roleRuntime, func(context.Context) error, error) {
	if err != nil {
		return nil, nil, err
	}
	return rt, nil, nil
}

func singleRuntime(role roles.Handler, topic, variant string, concurrency int, newConsumer func(topic, group string) (eventlog.Consumer, error), pub eventlog.Publisher, st store.Store, registry *config.Registry, notifier *notify.Service) (*roleRuntime, error) {
	group := eventlog.GroupID(role.Role(), variant)
	consumer, err := newConsumer(topic, group)
	if err != nil {
		return nil, fmt.Errorf("worker: open %s consumer: %w", role.Role(), err)
	}
	rt := worker.New(role, topic, consumer, pub, st, registry)
	rt.Concurrency = concurrency
	rt.Variant = variant
	rt.Group = group
	rt.Notifier = notifier
	return &roleRuntime{runtimes: []*worker.Runtime{rt}}, nil
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "worker"
	}
	return h
}

func openStore(storeURL string) (store.Store, error) {
	if storeURL == "" {
		slog.Warn("STORE_URL not set, using in-memory store (not for production use)")
		return store.NewMem(), nil
	}
	cfg, err := parseStoreURL(storeURL)
	if err != nil {
		return nil, err
	}
	return store.Open(cfg)
}

// parseStoreURL accepts a standard postgres:// connection URL, the same
// shape tarsy's own database config loader parses from its DATABASE_URL.
func parseStoreURL(raw string) (store.Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return store.Config{}, fmt.Errorf("worker: parse STORE_URL: %w", err)
	}
	port := 5432
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	password, _ := u.User.Password()
	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}
	return store.Config{
		Host:            u.Hostname(),
		Port:            port,
		User:            u.User.Username(),
		Password:        password,
		Database:        trimLeadingSlash(u.Path),
		SSLMode:         sslMode,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}, nil
}

func trimLeadingSlash(s string) string {
	if len(s) > 0 && s[0] == '/' {
		return s[1:]
	}
	return s
}

func openEventLog(bootstrap string) (eventlogBackend, error) {
	if bootstrap == "" {
		slog.Warn("BROKER_BOOTSTRAP not set, using in-memory event log (not for production use)")
		return memory.New(), nil
	}
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{bootstrap}})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("worker: connect to broker: %w", err)
	}
	return redisstream.New(rdb), nil
}

func newRegistry() *config.Registry {
	baseURL := os.Getenv("CONFIG_BASE_URL")
	if baseURL == "" {
		return nil
	}
	fetcher := config.NewFetcher(baseURL, os.Getenv("CONFIG_TOKEN"))
	ttl := time.Duration(getEnvInt("CONFIG_CACHE_TTL_SECONDS", 300)) * time.Second
	return config.NewRegistry(fetcher, ttl)
}

func newNotifier() *notify.Service {
	return notify.NewService(notify.ServiceConfig{
		Token:        os.Getenv("SLACK_BOT_TOKEN"),
		Channel:      os.Getenv("SLACK_CHANNEL"),
		DashboardURL: os.Getenv("DASHBOARD_URL"),
	})
}
