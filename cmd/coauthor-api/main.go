package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coauthorhq/coauthor/backend/internal/analytics"
	"github.com/coauthorhq/coauthor/backend/internal/auth"
	"github.com/coauthorhq/coauthor/backend/internal/comments"
	"github.com/coauthorhq/coauthor/backend/internal/config"
	"github.com/coauthorhq/coauthor/backend/internal/database"
	"github.com/coauthorhq/coauthor/backend/internal/documents"
	"github.com/coauthorhq/coauthor/backend/internal/email"
	"github.com/coauthorhq/coauthor/backend/internal/ids"
	"github.com/coauthorhq/coauthor/backend/internal/logging"
	"github.com/coauthorhq/coauthor/backend/internal/notifications"
	"github.com/coauthorhq/coauthor/backend/internal/realtime"
	"github.com/coauthorhq/coauthor/backend/internal/server"
	"github.com/coauthorhq/coauthor/backend/internal/sessionstore"
	"github.com/coauthorhq/coauthor/backend/internal/uploads"
	"github.com/coauthorhq/coauthor/backend/internal/users"
	"github.com/coauthorhq/coauthor/backend/internal/workspaces"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "coauthor-api",
		Short: "Coauthor collaborative editing backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	cmd.PersistentFlags().String("google-jwks-url", defaults.GetString("google.jwks_url"), "Google JWKS URL")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Access token signing secret (overrides env)")
	cmd.PersistentFlags().String("redis-url", defaults.GetString("redis.url"), "Redis URL for refresh sessions (empty disables refresh tokens)")
	cmd.PersistentFlags().Int("flush-delay-ms", defaults.GetInt("realtime.flush_delay_ms"), "Debounce window before room snapshots are persisted")
	cmd.PersistentFlags().String("storage-endpoint", defaults.GetString("storage.endpoint"), "S3-compatible endpoint for uploads (empty disables uploads)")
	cmd.PersistentFlags().String("storage-bucket", defaults.GetString("storage.bucket"), "Object storage bucket")
	cmd.PersistentFlags().String("smtp-host", defaults.GetString("smtp.host"), "SMTP relay host (empty disables email delivery)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.jwks_url", "google-jwks-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "redis.url", "redis-url")
	bindFlag(cmd, "realtime.flush_delay_ms", "flush-delay-ms")
	bindFlag(cmd, "storage.endpoint", "storage-endpoint")
	bindFlag(cmd, "storage.bucket", "storage-bucket")
	bindFlag(cmd, "smtp.host", "smtp-host")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	idProvider := ids.NewGenerator()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "coauthor-auth",
		Audience:      "coauthor-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	usersService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	workspacesService, err := workspaces.NewService(workspaces.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	documentsService, err := documents.NewService(documents.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	analyticsRecorder, err := analytics.NewRecorder(analytics.RecorderConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	smtpPort, _ := strconv.Atoi(appConfig.SMTPPort)
	emailSender, err := email.NewSender(email.SenderConfig{
		Host:     appConfig.SMTPHost,
		Port:     smtpPort,
		Username: appConfig.SMTPUsername,
		Password: appConfig.SMTPPassword,
		From:     appConfig.SMTPFrom,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	dispatcher := realtime.NewDispatcher()

	notificationsService, err := notifications.NewService(notifications.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Live:       dispatcher,
		Email:      emailSender,
		Users:      usersService,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	commentsService, err := comments.NewService(comments.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Documents:  documentsService,
		Notifier:   notificationsService,
		Usage:      analyticsRecorder,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	rooms, err := realtime.NewRoomManager(realtime.RoomManagerConfig{
		Store:      documentsService,
		FlushDelay: appConfig.FlushDelay,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	gateway, err := realtime.NewGateway(realtime.GatewayConfig{
		Verifier:   tokenManager,
		Rooms:      rooms,
		Presence:   realtime.NewRegistry(),
		Analytics:  analyticsRecorder,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	dependencies := server.Dependencies{
		TokenManager:  tokenManager,
		Users:         usersService,
		Workspaces:    workspacesService,
		Documents:     documentsService,
		Comments:      commentsService,
		Notifications: notificationsService,
		Analytics:     analyticsRecorder,
		Realtime:      gateway,
		Logger:        logger,
	}

	if appConfig.GoogleClientID != "" {
		googleVerifier, verifierErr := auth.NewGoogleVerifier(auth.GoogleVerifierConfig{
			Audience:       appConfig.GoogleClientID,
			JWKSURL:        appConfig.GoogleJWKSURL,
			AllowedIssuers: []string{"https://accounts.google.com", "accounts.google.com"},
			Logger:         logger,
		})
		if verifierErr != nil {
			return verifierErr
		}
		dependencies.GoogleVerifier = googleVerifier
	}

	if appConfig.RedisURL != "" {
		sessions, dialErr := sessionstore.Dial(ctx, appConfig.RedisURL, 0)
		if dialErr != nil {
			return dialErr
		}
		defer sessions.Close()
		dependencies.Sessions = sessions
	} else {
		logger.Warn("redis url not configured, refresh sessions disabled")
	}

	if appConfig.StorageEndpoint != "" {
		blobs, storeErr := uploads.NewMinioStore(ctx, uploads.MinioConfig{
			Endpoint:  appConfig.StorageEndpoint,
			AccessKey: appConfig.StorageAccess,
			SecretKey: appConfig.StorageSecret,
			Bucket:    appConfig.StorageBucket,
			UseSSL:    appConfig.StorageUseTLS,
		})
		if storeErr != nil {
			return storeErr
		}
		uploadsService, uploadsErr := uploads.NewService(uploads.ServiceConfig{
			Database:       db,
			Blobs:          blobs,
			IDProvider:     idProvider,
			Usage:          analyticsRecorder,
			PresignExpiry:  appConfig.PresignExpiry,
			MaxUploadBytes: appConfig.MaxUploadBytes,
			Logger:         logger,
		})
		if uploadsErr != nil {
			return uploadsErr
		}
		dependencies.Uploads = uploadsService
	} else {
		logger.Warn("storage endpoint not configured, uploads disabled")
	}

	handler, err := server.NewHTTPHandler(dependencies)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
