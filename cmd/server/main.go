package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/comanda-app/api/internal/config"
	"github.com/comanda-app/api/internal/database"
	"github.com/comanda-app/api/internal/events"
	"github.com/comanda-app/api/internal/mq"
	"github.com/comanda-app/api/internal/router"
	"github.com/comanda-app/api/internal/ws"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := connectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()
	log.Println("Connected to database")

	queries := database.New(pool)
	broker := events.NewBroker()
	hub := ws.NewHub()

	wsBridge := ws.Bridge(hub, broker)
	defer wsBridge.Cancel()

	if cfg.RabbitMQURL != "" {
		publisher, err := dialRabbitMQ(ctx, cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("Unable to connect to RabbitMQ: %v", err)
		}
		defer publisher.Close()
		mqBridge := publisher.Bridge(ctx, broker)
		defer mqBridge.Cancel()
		log.Printf("Publishing order events to exchange %q", mq.OrdersExchange)
	} else {
		log.Println("WARNING: RABBITMQ_URL not set, order events stay in-process")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router.New(cfg, queries, pool, hub, broker),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Printf("Starting server on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server stopped")
}

// connectDB opens a pool and pings it, retrying while the database starts up.
func connectDB(ctx context.Context, url string) (*pgxpool.Pool, error) {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 10), ctx)
	return backoff.RetryWithData(func() (*pgxpool.Pool, error) {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			pool.Close()
			log.Printf("WARNING: database not ready: %v", err)
			return nil, err
		}
		return pool, nil
	}, b)
}

func dialRabbitMQ(ctx context.Context, url string) (*mq.Publisher, error) {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 10), ctx)
	return backoff.RetryWithData(func() (*mq.Publisher, error) {
		p, err := mq.Dial(url)
		if err != nil {
			log.Printf("WARNING: rabbitmq not ready: %v", err)
		}
		return p, err
	}, b)
}
