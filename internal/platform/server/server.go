package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"elx-gateway/internal/apikey"
	"elx-gateway/internal/auth"
	"elx-gateway/internal/constants"
	"elx-gateway/internal/platform/config"
	"elx-gateway/internal/platform/driver"
	"elx-gateway/internal/platform/logger"
	"elx-gateway/internal/quota"
	"elx-gateway/internal/security/audit"
	"elx-gateway/internal/storage/database"
	"elx-gateway/internal/subscription"

	"github.com/robfig/cron/v3"
)

// Start 啟動伺服器.
func Start() error {
	// 初始化日誌系統
	if err := logger.InitLogger(); err != nil {
		return err
	}
	defer logger.CloseLogger()

	logger.LogInfof("正在啟動 ELX Gateway API 伺服器...")

	// 載入設定
	if err := config.Load(); err != nil {
		logger.LogErrorf("載入設定失敗: %v", err)
		return err
	}

	cfg := config.Get()
	logger.LogInfof("設定載入成功，環境: %s", config.GetEnv())

	// connect db
	if err := driver.ConnectMongo(); err != nil {
		logger.LogErrorf("資料庫連接失敗: %v", err)
		return err
	}
	defer func() {
		if err := driver.CloseMongo(); err != nil {
			logger.LogErrorf("關閉 MongoDB 連接失敗: %v", err)
		}
	}()

	database.SetMongoDB(driver.GetMongoDatabase())
	repos := database.NewRepositories()
	if repos == nil {
		logger.LogErrorf("儲存庫集合初始化失敗")
		return os.ErrInvalid
	}
	logger.LogInfof("儲存庫集合初始化完成")

	// 組裝閘道服務
	auditSvc := audit.NewAuditService(cfg.Security.Audit.Enabled)

	grace := time.Duration(constants.DefaultRotationGraceHours) * time.Hour
	if cfg.Limits.Rotation.GraceHours > 0 {
		grace = time.Duration(cfg.Limits.Rotation.GraceHours) * time.Hour
	}

	registry := apikey.NewRegistry(repos.Credential, grace, auditSvc)
	tiers := subscription.NewMongoTierLookup(driver.GetMongoDatabase())
	authenticator := auth.NewAuthenticator(repos.Credential, tiers, grace, auditSvc)
	quotaEngine := quota.NewEngine(repos.Credential, quota.LimitsFromConfig(cfg), auditSvc)

	// 背景清掃：寬限期屆滿的輪換中密鑰收斂為 revoked
	sweepSchedule := constants.RotationSweepSchedule
	if cfg.Limits.Rotation.SweepSchedule != "" {
		sweepSchedule = cfg.Limits.Rotation.SweepSchedule
	}
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(sweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := registry.SweepRotating(ctx); err != nil {
			logger.LogErrorf("輪換清掃失敗: %v", err)
		}
	}); err != nil {
		logger.LogErrorf("註冊輪換清掃排程失敗: %v", err)
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	// setting router
	router := Router(&Dependencies{
		Registry:      registry,
		Authenticator: authenticator,
		Quota:         quotaEngine,
		Articles:      repos.Article,
	})

	// create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.Timeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.Timeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// start server
	go func() {
		logger.LogInfof("伺服器正在監聽埠口: %s", cfg.Server.Port)

		var err error
		if cfg.Server.UseHTTPS {
			tlsConfig, tlsErr := LoadTLSConfig(TLSConfig{
				Enabled:  true,
				CertFile: cfg.Server.CertPath,
				KeyFile:  cfg.Server.KeyPath,
			})
			if tlsErr != nil {
				logger.LogErrorf("載入 TLS 配置失敗: %v", tlsErr)
				os.Exit(1)
			}
			server.TLSConfig = tlsConfig
			err = server.ListenAndServeTLS(cfg.Server.CertPath, cfg.Server.KeyPath)
		} else {
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			logger.LogErrorf("伺服器啟動失敗: %v", err)
			os.Exit(1)
		}
	}()

	// 等待關閉信號
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.LogInfof("收到關閉信號，正在優雅關閉伺服器...")

	// 優雅關閉
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.LogErrorf("伺服器關閉失敗: %v", err)
		return err
	}

	logger.LogInfof("伺服器已優雅關閉")
	return nil
}
