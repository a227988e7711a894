// Микросервис пуш-уведомлений (Web Push): подписки в Redis, отправка через VAPID.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/creatif-sam/ambf-connect/internal/config"
	"github.com/creatif-sam/ambf-connect/internal/logger"
	"github.com/creatif-sam/ambf-connect/internal/push"
	"github.com/creatif-sam/ambf-connect/internal/startup"
)

func main() {
	logger.SetPrefix("push")
	genVAPID := flag.Bool("gen-vapid", false, "print a new VAPID key pair and exit")
	flag.Parse()

	if *genVAPID {
		keys, err := push.GenerateVAPIDKeys()
		if err != nil {
			logger.Errorf("generate VAPID: %v", err)
			os.Exit(1)
		}
		logger.Infof("PUSH_VAPID_PUBLIC_KEY=%s", keys.PublicKey)
		logger.Infof("VAPID_PRIVATE_KEY=%s", keys.PrivateKey)
		logger.Flush()
		return
	}

	logger.Info("starting push service")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	var keys *push.VAPIDKeys
	if cfg.PushVAPIDPublicKey != "" && cfg.VAPIDPrivateKey != "" {
		keys = &push.VAPIDKeys{PublicKey: cfg.PushVAPIDPublicKey, PrivateKey: cfg.VAPIDPrivateKey}
	} else if k, err := push.EnsureVAPIDKeys(""); err == nil {
		keys = k
	} else {
		logger.Infof("VAPID: не удалось загрузить/сгенерировать ключи: %v — отправка отключена (подписки сохраняются)", err)
	}

	rdb := startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "push: ")
	defer rdb.Close()
	logger.Info("redis connected")

	store := push.NewRedisStore(rdb)
	s := &Server{
		store:         store,
		sender:        push.NewSender(store, keys, cfg.PushSubscriber),
		internalToken: cfg.PushInternalToken,
	}
	if keys != nil {
		s.vapidPublicKey = keys.PublicKey
	}

	srv := &http.Server{
		Addr:         cfg.PushListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("push server listening on %s", cfg.PushListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("push server: %v", err)
			logger.Flush()
			os.Exit(1)
		}
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
	logger.Info("push server stopped")
	logger.Flush()
}
