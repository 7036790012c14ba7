/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexliesenfeld/health"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	tlsutils "github.com/trustbloc/cmdutil-go/pkg/utils/tls"
	"github.com/trustbloc/logutil-go/pkg/log"
	"go.opentelemetry.io/otel"

	"github.com/agentgrant/consent/cmd/common"
	"github.com/agentgrant/consent/internal/retry"
	"github.com/agentgrant/consent/pkg/chainregistry"
	"github.com/agentgrant/consent/pkg/client/appregistry"
	"github.com/agentgrant/consent/pkg/client/chainrpc"
	"github.com/agentgrant/consent/pkg/client/relayer"
	"github.com/agentgrant/consent/pkg/client/sessiongateway"
	"github.com/agentgrant/consent/pkg/consentsession"
	"github.com/agentgrant/consent/pkg/event/bus"
	"github.com/agentgrant/consent/pkg/observability/health/healthutil"
	mongocheck "github.com/agentgrant/consent/pkg/observability/health/mongo"
	redischeck "github.com/agentgrant/consent/pkg/observability/health/redis"
	"github.com/agentgrant/consent/pkg/observability/metrics"
	"github.com/agentgrant/consent/pkg/observability/metrics/noop"
	promprovider "github.com/agentgrant/consent/pkg/observability/metrics/prometheus"
	"github.com/agentgrant/consent/pkg/observability/tracing"
	consentwrapper "github.com/agentgrant/consent/pkg/observability/tracing/wrappers/consent"
	"github.com/agentgrant/consent/pkg/restapi/handlers"
	consentapi "github.com/agentgrant/consent/pkg/restapi/v1/consent"
	"github.com/agentgrant/consent/pkg/restapi/v1/logapi"
	"github.com/agentgrant/consent/pkg/restapi/v1/version"
	consentsvc "github.com/agentgrant/consent/pkg/service/consent"
	"github.com/agentgrant/consent/pkg/service/reconcile"
	"github.com/agentgrant/consent/pkg/storage/mongodb"
	"github.com/agentgrant/consent/pkg/storage/mongodb/appmetadatastore"
	"github.com/agentgrant/consent/pkg/storage/redis"
	"github.com/agentgrant/consent/pkg/storage/redis/authrecordstore"
	"github.com/agentgrant/consent/pkg/storage/redis/consenttxstore"
	"github.com/agentgrant/consent/pkg/storage/redis/sessionstore"
	"github.com/agentgrant/consent/pkg/token"
)

var logger = log.New("consent-rest")

const (
	databaseName        = "consent"
	healthCheckEndpoint = "/healthcheck"

	gracefulShutdownTimeout = 10 * time.Second
	healthCheckTimeout      = 10 * time.Second
	healthCheckCacheTTL     = time.Second
)

type startOpts struct {
	version       string
	serverVersion string
}

// StartOpts configures the start command.
type StartOpts func(opts *startOpts)

// WithVersion sets the build version reported by the version endpoint.
func WithVersion(version string) StartOpts {
	return func(opts *startOpts) {
		opts.version = version
	}
}

// WithServerVersion sets the server version reported by the version endpoint.
func WithServerVersion(version string) StartOpts {
	return func(opts *startOpts) {
		opts.serverVersion = version
	}
}

// GetStartCmd returns the Cobra start command.
func GetStartCmd(opts ...StartOpts) *cobra.Command {
	startCmd := createStartCmd(opts...)

	createFlags(startCmd)

	return startCmd
}

func createStartCmd(opts ...StartOpts) *cobra.Command {
	o := &startOpts{}

	for _, op := range opts {
		op(o)
	}

	return &cobra.Command{
		Use:   "start",
		Short: "Start consent-rest",
		Long:  "Start the agent consent and delegation REST server",
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := getStartupParameters(cmd)
			if err != nil {
				return fmt.Errorf("failed to get startup parameters: %w", err)
			}

			return runServer(params, o)
		},
	}
}

// nolint: funlen
func runServer(params *startupParameters, opts *startOpts) error {
	common.SetDefaultLogLevel(logger, params.logLevel)

	stopTracing, tracer, err := tracing.Initialize(params.tracingParams.provider, params.tracingParams.serviceName)
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}

	defer stopTracing()

	rootCAs, err := tlsutils.GetCertPool(params.tlsParameters.systemCertPool, params.tlsParameters.caCerts)
	if err != nil {
		return fmt.Errorf("get cert pool: %w", err)
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: rootCAs, MinVersion: tls.VersionTLS12},
		},
	}

	metricsProvider, err := createMetricsProvider(params)
	if err != nil {
		return err
	}

	defer func() {
		if destroyErr := metricsProvider.Destroy(); destroyErr != nil {
			logger.Error("Failed to destroy metrics provider", log.WithError(destroyErr))
		}
	}()

	serviceMetrics := metricsProvider.Metrics()

	mongoClient, err := common.InitMongoDB(
		params.dbParameters.mongoDBURL,
		databaseName,
		params.dbParameters.connectTimeout,
		logger,
		mongodb.WithTraceProvider(otel.GetTracerProvider()),
	)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := mongoClient.Close(); closeErr != nil {
			logger.Error("Failed to close mongodb client", log.WithError(closeErr))
		}
	}()

	redisOpts := []redis.ClientOpt{
		redis.WithTraceProvider(otel.GetTracerProvider()),
	}

	if params.dbParameters.redisPassword != "" {
		redisOpts = append(redisOpts, redis.WithPassword(params.dbParameters.redisPassword))
	}

	if params.dbParameters.redisMasterName != "" {
		redisOpts = append(redisOpts, redis.WithMasterName(params.dbParameters.redisMasterName))
	}

	redisClient, err := common.InitRedis(
		params.dbParameters.redisURLs,
		params.dbParameters.connectTimeout,
		logger,
		redisOpts...,
	)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			logger.Error("Failed to close redis client", log.WithError(closeErr))
		}
	}()

	appMetadataStore, err := appmetadatastore.New(context.Background(), mongoClient, params.appCacheTTL)
	if err != nil {
		return fmt.Errorf("create app metadata store: %w", err)
	}

	appRegistryClient := appregistry.NewClient(&appregistry.Config{
		HTTPClient: httpClient,
		APIBaseURL: params.appRegistryURL,
		Cache:      appMetadataStore,
	})

	relayerClient := relayer.NewClient(&relayer.Config{
		HTTPClient: httpClient,
		RelayerURL: params.relayerURL,
		APIKey:     params.relayerAPIKey,
	})

	sessionGateway := sessiongateway.NewClient(&sessiongateway.Config{
		HTTPClient: httpClient,
		GatewayURL: params.sessionGatewayURL,
		APIKey:     params.sessionGatewayAPIKey,
	})

	// single shared chain client; the reader and the submitter both hold it
	chainClient := chainrpc.NewClient(&chainrpc.Config{
		HTTPClient:      httpClient,
		RPCURL:          params.chainRPCURL,
		ContractAddress: params.registryContractAddress,
	})

	grantReader := chainregistry.NewReader(chainClient)
	writeSubmitter := chainregistry.NewSubmitter(chainClient, retry.DefaultPolicy())

	reconciler := reconcile.NewService(&reconcile.Config{
		GrantReader:   grantReader,
		WriteExecutor: writeSubmitter,
	})

	sessionProvider := consentsession.NewProvider(&consentsession.Config{
		Backend:           sessionGateway,
		CapacityDelegator: sessionGateway,
		SessionTTL:        params.sessionTTL,
	})

	consentService := consentsvc.NewService(&consentsvc.Config{
		TransactionStore: consenttxstore.NewStore(redisClient, params.consentTxTTL),
		SessionStore:     sessionstore.NewStore(redisClient, sessionGateway),
		AuthRecordStore:  authrecordstore.NewStore(redisClient, params.authRecordTTL),
		SessionProvider:  sessionProvider,
		GrantReader:      grantReader,
		Reconciler:       reconciler,
		TokenIssuer:      token.NewIssuer(params.tokenTTLMinutes),
		AppRegistry:      appRegistryClient,
		PKPMinter:        relayerClient,
		EventService:     bus.New(),
		EventTopic:       params.eventTopic,
		Metrics:          serviceMetrics,
	})

	e := echo.New()
	e.HideBanner = true

	e.HTTPErrorHandler = handlers.HTTPErrorHandler(tracer)

	e.Use(echomw.Recover())
	e.Use(echomw.CORS())

	consentapi.NewController(e, &consentapi.Config{
		ConsentService: consentwrapper.Wrap(consentService, tracer),
		Metrics:        serviceMetrics,
	})

	version.NewController(e, version.Config{
		Version:       opts.version,
		ServerVersion: opts.serverVersion,
	})

	logapi.NewController(e)

	registerHealthCheck(e, redisClient, mongoClient)

	ready := newReadinessController(e)

	serverCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)

	go func() {
		errCh <- startEchoServer(e, params)
	}()

	ready.Ready(true)

	logger.Info("consent-rest started", log.WithURL(params.hostURL))

	select {
	case err = <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("start server: %w", err)
		}

		return nil
	case <-serverCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err = e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}

	return nil
}

func startEchoServer(e *echo.Echo, params *startupParameters) error {
	if params.tlsParameters.serveCertPath != "" && params.tlsParameters.serveKeyPath != "" {
		return e.StartTLS(params.hostURL, params.tlsParameters.serveCertPath, params.tlsParameters.serveKeyPath)
	}

	return e.Start(params.hostURL)
}

func createMetricsProvider(params *startupParameters) (metrics.Provider, error) {
	if params.metricsProviderName != "prometheus" {
		return &noopProvider{}, nil
	}

	promServer := &http.Server{
		Addr:              params.prometheusMetricsProviderParams.url,
		ReadHeaderTimeout: 5 * time.Second,
	}

	provider := promprovider.NewPrometheusProvider(promServer)

	if err := provider.Create(); err != nil {
		return nil, fmt.Errorf("create prometheus provider: %w", err)
	}

	return provider, nil
}

func registerHealthCheck(e *echo.Echo, redisClient *redis.Client, mongoClient *mongodb.Client) {
	responseTimes := map[string]healthutil.ResponseTimeState{}

	checker := health.NewChecker(
		health.WithCacheDuration(healthCheckCacheTTL),
		health.WithTimeout(healthCheckTimeout),
		health.WithInterceptors(healthutil.ResponseTimeInterceptor(responseTimes)),
		health.WithCheck(health.Check{
			Name:  "redis",
			Check: redischeck.New(redisClient),
		}),
		health.WithCheck(health.Check{
			Name:  "mongodb",
			Check: mongocheck.New(mongoClient),
		}),
	)

	e.GET(healthCheckEndpoint, echo.WrapHandler(health.NewHandler(checker,
		health.WithResultWriter(healthutil.NewJSONResultWriter(responseTimes)))))
}

// noopProvider satisfies metrics.Provider when no provider is configured.
type noopProvider struct{}

func (p *noopProvider) Create() error { return nil }

func (p *noopProvider) Destroy() error { return nil }

func (p *noopProvider) Metrics() metrics.Metrics { return &noop.NoMetrics{} }
