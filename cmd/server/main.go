package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/alekolar/authd/internal/authcore"
	"github.com/alekolar/authd/internal/authcorepg"
	"github.com/alekolar/authd/internal/directory"
	"github.com/alekolar/authd/internal/web"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "authd",
		Short:   "Auth service with credential login, JWT access tokens, and rotating refresh tokens",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("access_signing_key", "", "HS256 signing secret for access JWTs")
	rootCmd.Flags().String("refresh_signing_key", "", "HS256 signing secret for refresh JWTs; must differ from the access key")
	rootCmd.Flags().String("issuer", "authd", "Issuer claim minted into every token")
	rootCmd.Flags().Duration("access_ttl", 15*time.Minute, "Access token TTL")
	rootCmd.Flags().Duration("refresh_ttl", 7*24*time.Hour, "Refresh token TTL")
	rootCmd.Flags().Int("bcrypt_cost", bcrypt.DefaultCost, "bcrypt cost for password and fingerprint hashing")
	rootCmd.Flags().String("database_url", "", "Database URL (postgres:// or sqlite://; leave empty for in-memory storage)")
	rootCmd.Flags().Bool("use_pgx_pool", false, "Serve refresh tokens from a pgx connection pool instead of GORM (postgres only)")
	rootCmd.Flags().StringSlice("admin_logins", []string{}, "Logins granted the admin role at startup")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")

	_ = viper.BindPFlag("listen_addr", rootCmd.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("access_signing_key", rootCmd.Flags().Lookup("access_signing_key"))
	_ = viper.BindPFlag("refresh_signing_key", rootCmd.Flags().Lookup("refresh_signing_key"))
	_ = viper.BindPFlag("issuer", rootCmd.Flags().Lookup("issuer"))
	_ = viper.BindPFlag("access_ttl", rootCmd.Flags().Lookup("access_ttl"))
	_ = viper.BindPFlag("refresh_ttl", rootCmd.Flags().Lookup("refresh_ttl"))
	_ = viper.BindPFlag("bcrypt_cost", rootCmd.Flags().Lookup("bcrypt_cost"))
	_ = viper.BindPFlag("database_url", rootCmd.Flags().Lookup("database_url"))
	_ = viper.BindPFlag("use_pgx_pool", rootCmd.Flags().Lookup("use_pgx_pool"))
	_ = viper.BindPFlag("admin_logins", rootCmd.Flags().Lookup("admin_logins"))
	_ = viper.BindPFlag("enable_cors", rootCmd.Flags().Lookup("enable_cors"))
	_ = viper.BindPFlag("cors_allowed_origins", rootCmd.Flags().Lookup("cors_allowed_origins"))

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	configCodeMissingAccessKey        = "config.missing_access_signing_key"
	configCodeMissingRefreshKey       = "config.missing_refresh_signing_key"
	configCodeIdenticalSigningKeys    = "config.identical_signing_keys"
	configCodeMissingIssuer           = "config.missing_issuer"
	configCodeInvalidAccessTTL        = "config.invalid_access_ttl"
	configCodeInvalidRefreshTTL       = "config.invalid_refresh_ttl"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodePgxRequiresPostgres     = "config.pgx_requires_postgres_url"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig reads the token lifecycle configuration from viper and
// validates it.
func LoadServerConfig() (authcore.Config, error) {
	accessSigningKey := viper.GetString("access_signing_key")
	if accessSigningKey == "" {
		return authcore.Config{}, configError(configCodeMissingAccessKey, "access_signing_key must be provided")
	}

	refreshSigningKey := viper.GetString("refresh_signing_key")
	if refreshSigningKey == "" {
		return authcore.Config{}, configError(configCodeMissingRefreshKey, "refresh_signing_key must be provided")
	}

	// A shared key would let a refresh token pass for an access token.
	if accessSigningKey == refreshSigningKey {
		return authcore.Config{}, configError(configCodeIdenticalSigningKeys, "access_signing_key and refresh_signing_key must differ")
	}

	issuer := viper.GetString("issuer")
	if issuer == "" {
		return authcore.Config{}, configError(configCodeMissingIssuer, "issuer must be provided")
	}

	accessTTL := viper.GetDuration("access_ttl")
	if accessTTL <= 0 {
		return authcore.Config{}, configError(configCodeInvalidAccessTTL, "access_ttl must be greater than zero")
	}

	refreshTTL := viper.GetDuration("refresh_ttl")
	if refreshTTL <= 0 {
		return authcore.Config{}, configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than zero")
	}

	return authcore.Config{
		AccessSigningKey:  []byte(accessSigningKey),
		RefreshSigningKey: []byte(refreshSigningKey),
		Issuer:            issuer,
		AccessTTL:         accessTTL,
		RefreshTTL:        refreshTTL,
		BcryptCost:        viper.GetInt("bcrypt_cost"),
	}, nil
}

// userBackend pairs the directory lookups with registration and role seeding;
// both the memory and the database directories satisfy it.
type userBackend interface {
	authcore.UserDirectory
	directory.Registrar
	SetRoles(ctx context.Context, login string, roles []string) error
}

func buildStorage(ctx context.Context, hasher *authcore.CredentialHasher, clock authcore.Clock, logger *zap.Logger) (authcore.RefreshTokenStore, userBackend, error) {
	databaseURL := viper.GetString("database_url")
	usePgxPool := viper.GetBool("use_pgx_pool")

	if databaseURL == "" {
		if usePgxPool {
			return nil, nil, configError(configCodePgxRequiresPostgres, "use_pgx_pool requires a postgres database_url")
		}
		logger.Info("using in-memory storage")
		return authcore.NewMemoryRefreshTokenStore(hasher, clock), directory.NewMemoryDirectory(hasher), nil
	}

	if usePgxPool {
		pool, poolErr := authcorepg.BuildPool(ctx, databaseURL)
		if poolErr != nil {
			return nil, nil, poolErr
		}
		if schemaErr := authcorepg.EnsureSchema(ctx, pool); schemaErr != nil {
			return nil, nil, schemaErr
		}
		gormDB, _, openErr := authcore.OpenDatabase(databaseURL)
		if openErr != nil {
			return nil, nil, openErr
		}
		users, directoryErr := directory.NewDatabaseDirectory(ctx, gormDB, hasher)
		if directoryErr != nil {
			return nil, nil, directoryErr
		}
		logger.Info("using pgx refresh token store", zap.String("driver", "pgx"))
		return authcorepg.NewPostgresRefreshTokenStore(pool, hasher, clock), users, nil
	}

	store, storeErr := authcore.NewDatabaseRefreshTokenStore(ctx, databaseURL, hasher, clock)
	if storeErr != nil {
		return nil, nil, storeErr
	}
	users, directoryErr := directory.NewDatabaseDirectory(ctx, store.DB(), hasher)
	if directoryErr != nil {
		return nil, nil, directoryErr
	}
	logger.Info("using persistent refresh token store", zap.String("driver", store.Driver()))
	return store, users, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(authcore.Config)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}
	if commandContext == nil {
		commandContext = context.Background()
	}

	listenAddr := viper.GetString("listen_addr")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	adminLogins := viper.GetStringSlice("admin_logins")

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	clock := authcore.NewSystemClock()
	hasher := authcore.NewCredentialHasher(serverConfig.BcryptCost)

	refreshStore, users, storageErr := buildStorage(commandContext, hasher, clock, logger)
	if storageErr != nil {
		return storageErr
	}

	for _, adminLogin := range adminLogins {
		if rolesErr := users.SetRoles(commandContext, adminLogin, []string{"user", "admin"}); rolesErr != nil {
			logger.Warn("admin role seed skipped",
				zap.String("code", "config.admin_seed_skipped"),
				zap.String("login", adminLogin),
				zap.Error(rolesErr))
		}
	}

	codec := authcore.NewTokenCodec(serverConfig, clock)
	metricsRecorder := authcore.NewCounterMetrics()
	engine := authcore.NewEngine(serverConfig, codec, hasher, refreshStore, users, metricsRecorder, logger)

	web.MountAuthRoutes(router, engine, users, metricsRecorder, logger)

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
