package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mailpool/relay/app/account"
	"github.com/mailpool/relay/app/attachment"
	"github.com/mailpool/relay/app/controller"
	"github.com/mailpool/relay/app/dispatch"
	"github.com/mailpool/relay/app/lock"
	"github.com/mailpool/relay/app/preparer"
	"github.com/mailpool/relay/app/repository"
	"github.com/mailpool/relay/app/service"
	"github.com/mailpool/relay/app/transport"
	"github.com/mailpool/relay/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP relay server",
	Long:  "Start the HTTP server that accepts send requests and dispatches them through the sender account pool.",
	Run:   runServe,
}

// init registers the serve command.
func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe wires dependencies and starts the HTTP server.
func runServe(_ *cobra.Command, _ []string) {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var db *sql.DB
	recorder := service.Recorder(repository.NoopRecorder{})
	if cfg.MySQLDSN != "" {
		db, err = sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		db.SetMaxOpenConns(cfg.MySQLMaxOpen)
		db.SetMaxIdleConns(cfg.MySQLMaxIdle)
		db.SetConnMaxLifetime(cfg.MySQLMaxLife)

		if err := db.Ping(); err != nil {
			log.Fatalf("Failed to ping database: %v", err)
		}
		recorder = repository.NewDeliveryLogRepository(db)
	}

	locker := buildLocker(cfg, db, log)

	senders := cfg.Senders
	if len(senders) == 0 && cfg.Transport == "noop" {
		// The noop transport needs no real credentials.
		senders = []account.Credentials{{Label: "noop", Identity: "noop", Secret: "noop"}}
	}
	registry, err := account.NewRegistry(senders)
	if err != nil {
		log.Fatalf("Failed to build sender registry: %v", err)
	}

	tr, err := buildTransport(cfg, log)
	if err != nil {
		log.Fatalf("Failed to build mail transport: %v", err)
	}

	renderer := preparer.NewChain(preparer.NewMIMEPreparer())
	engine := dispatch.NewEngine(registry, tr, renderer, cfg.BatchConcurrency, log)
	resolver := attachment.NewResolver(cfg.MaxAttachmentSize, cfg.FetchTimeout, log)
	relay := service.NewRelayService(engine, resolver, recorder, locker, log)
	mailController := controller.NewMailController(relay)

	e := setupHTTPServer(cfg, mailController)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTPHost, cfg.HTTPPort)
		log.Infof("Starting HTTP server on %s", httpAddr)
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP shutdown error: %v", err)
	}

	log.Info("Server stopped")
}

// setupHTTPServer configures the Echo HTTP server and routes.
func setupHTTPServer(cfg *config.Config, mailController *controller.MailController) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.Logger())
	e.Use(echomiddleware.Recover())
	if len(cfg.AllowedOrigins) > 0 {
		e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{AllowOrigins: cfg.AllowedOrigins}))
	} else {
		e.Use(echomiddleware.CORS())
	}

	mail := e.Group("/mail", controller.Gate(cfg.RelaySecret, cfg.AllowedOrigins))
	mail.POST("/send", mailController.Send)
	mail.POST("/send/batch", mailController.SendBatch)
	mail.GET("/accounts", mailController.Accounts)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	return e
}

// buildLocker picks the strongest available duplicate-request guard:
// Redis when configured, MySQL named locks when only the database is
// available, otherwise an in-process map.
func buildLocker(cfg *config.Config, db *sql.DB, log *logrus.Logger) lock.Locker {
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		return lock.NewRedisLocker(rdb)
	}
	if db != nil {
		return lock.NewMySQLLocker(db)
	}
	return lock.NewMemoryLocker()
}

func buildTransport(cfg *config.Config, log *logrus.Logger) (transport.Transport, error) {
	switch cfg.Transport {
	case "", "smtp":
		return transport.NewSMTPTransport(cfg.SMTPHost, cfg.SMTPPort, log), nil
	case "ses":
		return transport.NewSESTransport(cfg.AWSRegion, log), nil
	case "noop":
		return transport.NewNoopTransport(), nil
	default:
		return nil, fmt.Errorf("unsupported MAIL_TRANSPORT: %s", cfg.Transport)
	}
}
