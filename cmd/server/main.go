package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MegaGrindStone/tutor-web-ui/internal/handlers"
	"github.com/MegaGrindStone/tutor-web-ui/internal/services"
	"github.com/MegaGrindStone/tutor-web-ui/internal/session"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func main() {
	// A missing .env file is fine, the environment may already be set.
	_ = godotenv.Load()

	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	cfgPath := filepath.Join(cfgDir, "tutorui")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	cfgFilePath := os.Getenv("TUTORUI_CONFIG")
	if cfgFilePath == "" {
		cfgFilePath = filepath.Join(cfgPath, "config.yaml")
	}
	cfg, err := loadConfig(cfgFilePath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := cfg.Log.logger()
	if err != nil {
		log.Fatal(err)
	}

	tutor, closeTutor, err := newTutor(cfg, cfgPath, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer closeTutor()

	ctrl := session.NewController(tutor, session.NewStore(),
		session.NewTypewriter(cfg.Reveal.Interval, cfg.Reveal.Step), logger)

	loadCtx, loadCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ctrl.Load(loadCtx); err != nil {
		// The tutor may come back later, new conversations fall back to offline mode meanwhile.
		logger.Warn("Failed to load conversations", slog.String("err", err.Error()))
	}
	loadCancel()

	m, err := handlers.NewMain(ctrl, logger)
	if err != nil {
		closeTutor()
		log.Fatal(err)
	}

	// Create custom mux
	mux := http.NewServeMux()
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/chats/new", m.HandleNewChat)
	mux.HandleFunc("/chats/delete", m.HandleDeleteChat)
	mux.HandleFunc("/chats/rename", m.HandleRenameChat)
	mux.HandleFunc("/chats/flush", m.HandleFlush)
	mux.HandleFunc("/sse", m.HandleSSE)

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
}

func loadConfig(path string) (config, error) {
	cfgFile, err := os.Open(path)
	if err != nil {
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer cfgFile.Close()

	cfg := config{}
	if err := yaml.NewDecoder(cfgFile).Decode(&cfg); err != nil {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}

// newTutor builds the tutor selected in the config. Language model providers keep their conversations
// in a BoltDB file next to the config, the returned function closes it.
func newTutor(cfg config, cfgPath string, logger *slog.Logger) (session.Tutor, func(), error) {
	switch tc := cfg.Tutor.(type) {
	case *apiConfig:
		if tc.Token == "" {
			logger.Warn("No tutor api token configured, set TUTOR_API_TOKEN")
		} else if exp, ok := services.NewStaticToken(tc.Token).ExpiresAt(); ok {
			logger.Info("Tutor api token loaded", slog.Time("expiresAt", exp))
		}
		return tc.newTutorAPI(logger), func() {}, nil
	case localTutorConfig:
		llm, source, err := tc.llm(cfg.SystemPrompt)
		if err != nil {
			return nil, nil, err
		}
		boltDB, err := services.NewBoltDB(filepath.Join(cfgPath, "store.db"))
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if err := boltDB.Close(); err != nil {
				logger.Error("Failed to close store", slog.String("err", err.Error()))
			}
		}
		return services.NewLocalTutor(llm, boltDB, source, logger), closeDB, nil
	default:
		return nil, nil, fmt.Errorf("unsupported tutor config %T", cfg.Tutor)
	}
}
