// auditlog tails the domain-event topic and keeps a running audit trail:
// structured log lines, prometheus counters, and per-type counters in Redis.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/efebausal/bilshare/internal/events"
)

const countersKey = "bilshare:audit:event_counts"

var (
	eventsConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auditlog_events_consumed_total",
		Help: "Total domain events consumed, by type",
	}, []string{"type"})
	eventsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auditlog_events_invalid_total",
		Help: "Total undecodable messages received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auditlog_redis_updates_total",
		Help: "Total successful redis counter updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auditlog_redis_errors_total",
		Help: "Total redis errors",
	})
)

func init() {
	prometheus.MustRegister(eventsConsumed, eventsInvalid, redisUpdates, redisErrors)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokersEnv := os.Getenv("KAFKA_BROKERS")
	brokers := []string{"localhost:9092"}
	if brokersEnv != "" {
		brokers = brokers[:0]
		for _, b := range strings.Split(brokersEnv, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	}
	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "bilshare-events"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "bilshare-auditlog"
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rc := redis.NewClient(&redis.Options{Addr: redisAddr, Password: os.Getenv("REDIS_PASSWORD")})
	counters := &redisCounters{c: rc}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	log.Printf("auditlog listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down auditlog")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		var ev events.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil || ev.Type == "" {
			eventsInvalid.Inc()
			log.Printf("invalid event: %v", err)
			continue
		}
		eventsConsumed.WithLabelValues(ev.Type).Inc()
		log.Printf("event type=%s ride=%s request=%s user=%s at=%s",
			ev.Type, ev.RideID, ev.RequestID, ev.UserID, ev.At.Format(time.RFC3339))

		if err := countWithRetry(ctx, counters, ev.Type, 3, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			log.Printf("redis counter update failed for type=%s: %v", ev.Type, err)
			continue
		}
		redisUpdates.Inc()
	}
}

// Counter is the small subset of redis operations we need for tests and
// production.
type Counter interface {
	HIncrBy(ctx context.Context, key, field string, incr int64) error
}

type redisCounters struct{ c *redis.Client }

func (r *redisCounters) HIncrBy(ctx context.Context, key, field string, incr int64) error {
	return r.c.HIncrBy(ctx, key, field, incr).Err()
}

// countWithRetry bumps the per-type counter with retry/backoff.
func countWithRetry(ctx context.Context, c Counter, eventType string, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = c.HIncrBy(ctx, countersKey, eventType, 1); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
