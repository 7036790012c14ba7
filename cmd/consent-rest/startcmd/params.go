/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	cmdutils "github.com/trustbloc/cmdutil-go/pkg/utils/cmd"

	"github.com/agentgrant/consent/cmd/common"
	"github.com/agentgrant/consent/pkg/event/spi"
	"github.com/agentgrant/consent/pkg/observability/tracing"
)

const (
	commonEnvVarUsageText = "Alternatively, this can be set with the following environment variable: "

	hostURLFlagName      = "host-url"
	hostURLFlagShorthand = "u"
	hostURLFlagUsage     = "URL to run the consent-rest instance on. Format: HostName:Port."
	hostURLEnvKey        = "CONSENT_REST_HOST_URL"

	hostURLExternalFlagName      = "host-url-external"
	hostURLExternalFlagShorthand = "x"
	hostURLExternalEnvKey        = "CONSENT_REST_HOST_URL_EXTERNAL"
	hostURLExternalFlagUsage     = "This is the URL for the host server as seen externally. Format: http://<HOST>:<PORT>"

	appRegistryURLFlagName  = "app-registry-url"
	appRegistryURLEnvKey    = "CONSENT_REST_APP_REGISTRY_URL"
	appRegistryURLFlagUsage = "Base URL of the application registry API. " +
		commonEnvVarUsageText + appRegistryURLEnvKey

	relayerURLFlagName  = "relayer-url"
	relayerURLEnvKey    = "CONSENT_REST_RELAYER_URL"
	relayerURLFlagUsage = "Base URL of the key-pair minting relayer. " +
		commonEnvVarUsageText + relayerURLEnvKey

	relayerAPIKeyFlagName  = "relayer-api-key" //nolint: gosec
	relayerAPIKeyEnvKey    = "CONSENT_REST_RELAYER_API_KEY"
	relayerAPIKeyFlagUsage = "API key for the relayer (optional). " +
		commonEnvVarUsageText + relayerAPIKeyEnvKey

	sessionGatewayURLFlagName  = "session-gateway-url"
	sessionGatewayURLEnvKey    = "CONSENT_REST_SESSION_GATEWAY_URL"
	sessionGatewayURLFlagUsage = "Base URL of the session node gateway. " +
		commonEnvVarUsageText + sessionGatewayURLEnvKey

	sessionGatewayAPIKeyFlagName  = "session-gateway-api-key" //nolint: gosec
	sessionGatewayAPIKeyEnvKey    = "CONSENT_REST_SESSION_GATEWAY_API_KEY"
	sessionGatewayAPIKeyFlagUsage = "API key for the session node gateway (optional). " +
		commonEnvVarUsageText + sessionGatewayAPIKeyEnvKey

	chainRPCURLFlagName  = "chain-rpc-url"
	chainRPCURLEnvKey    = "CONSENT_REST_CHAIN_RPC_URL"
	chainRPCURLFlagUsage = "URL of the delegation registry JSON-RPC gateway. " +
		commonEnvVarUsageText + chainRPCURLEnvKey

	registryContractFlagName  = "registry-contract-address"
	registryContractEnvKey    = "CONSENT_REST_REGISTRY_CONTRACT_ADDRESS"
	registryContractFlagUsage = "Address of the delegation registry contract. " +
		commonEnvVarUsageText + registryContractEnvKey

	mongoDBURLFlagName  = "mongodb-url"
	mongoDBURLEnvKey    = "CONSENT_REST_MONGODB_URL"
	mongoDBURLFlagUsage = "MongoDB connection string. Example: mongodb://mongodb.example.com:27017. " +
		commonEnvVarUsageText + mongoDBURLEnvKey

	redisURLFlagName  = "redis-url"
	redisURLEnvKey    = "CONSENT_REST_REDIS_URL"
	redisURLFlagUsage = "Comma-separated list of redis addresses. " +
		commonEnvVarUsageText + redisURLEnvKey

	redisPasswordFlagName  = "redis-password" //nolint: gosec
	redisPasswordEnvKey    = "CONSENT_REST_REDIS_PASSWORD"
	redisPasswordFlagUsage = "Redis password (optional). " +
		commonEnvVarUsageText + redisPasswordEnvKey

	redisMasterNameFlagName  = "redis-master-name"
	redisMasterNameEnvKey    = "CONSENT_REST_REDIS_MASTER_NAME"
	redisMasterNameFlagUsage = "Name of the sentinel master (optional, enables the failover client). " +
		commonEnvVarUsageText + redisMasterNameEnvKey

	connectTimeoutFlagName  = "datasource-timeout"
	connectTimeoutEnvKey    = "CONSENT_REST_DATASOURCE_TIMEOUT"
	connectTimeoutFlagUsage = "Total time in seconds to wait until a datasource is available before giving up. " +
		"Default: 30 seconds. " + commonEnvVarUsageText + connectTimeoutEnvKey

	consentTxTTLFlagName  = "consent-tx-ttl"
	consentTxTTLEnvKey    = "CONSENT_REST_CONSENT_TX_TTL"
	consentTxTTLFlagUsage = "TTL for in-flight consent flow transactions. Defaults to 15m. " +
		commonEnvVarUsageText + consentTxTTLEnvKey

	authRecordTTLFlagName  = "auth-record-ttl"
	authRecordTTLEnvKey    = "CONSENT_REST_AUTH_RECORD_TTL"
	authRecordTTLFlagUsage = "TTL for cached authentication records. Defaults to 24h. " +
		commonEnvVarUsageText + authRecordTTLEnvKey

	sessionTTLFlagName  = "session-ttl"
	sessionTTLEnvKey    = "CONSENT_REST_SESSION_TTL"
	sessionTTLFlagUsage = "TTL for session signature bundles. Defaults to 15m. " +
		commonEnvVarUsageText + sessionTTLEnvKey

	tokenTTLFlagName  = "capability-token-ttl" //nolint: gosec
	tokenTTLEnvKey    = "CONSENT_REST_CAPABILITY_TOKEN_TTL"
	tokenTTLFlagUsage = "TTL for issued capability tokens, at most 60m. Defaults to 30m. " +
		commonEnvVarUsageText + tokenTTLEnvKey

	appCacheTTLFlagName  = "app-metadata-cache-ttl"
	appCacheTTLEnvKey    = "CONSENT_REST_APP_METADATA_CACHE_TTL"
	appCacheTTLFlagUsage = "TTL for cached application metadata. Defaults to 1h. " +
		commonEnvVarUsageText + appCacheTTLEnvKey

	eventTopicFlagName  = "consent-event-topic"
	eventTopicEnvKey    = "CONSENT_REST_EVENT_TOPIC"
	eventTopicFlagUsage = "The name of the consent interaction event topic. " +
		commonEnvVarUsageText + eventTopicEnvKey

	tlsSystemCertPoolFlagName  = "tls-systemcertpool"
	tlsSystemCertPoolFlagUsage = "Use system certificate pool." +
		" Possible values [true] [false]. Defaults to false if not set. " + commonEnvVarUsageText + tlsSystemCertPoolEnvKey
	tlsSystemCertPoolEnvKey = "CONSENT_REST_TLS_SYSTEMCERTPOOL"

	tlsCACertsFlagName  = "tls-cacerts"
	tlsCACertsFlagUsage = "Comma-Separated list of ca certs path." + commonEnvVarUsageText + tlsCACertsEnvKey
	tlsCACertsEnvKey    = "CONSENT_REST_TLS_CACERTS"

	tlsCertificateFlagName  = "tls-certificate"
	tlsCertificateFlagUsage = "TLS certificate for consent-rest server. " + commonEnvVarUsageText + tlsCertificateEnvKey
	tlsCertificateEnvKey    = "CONSENT_REST_TLS_CERTIFICATE"

	tlsKeyFlagName  = "tls-key"
	tlsKeyFlagUsage = "TLS key for consent-rest server. " + commonEnvVarUsageText + tlsKeyEnvKey
	tlsKeyEnvKey    = "CONSENT_REST_TLS_KEY"

	metricsProviderFlagName         = "metrics-provider-name"
	metricsProviderEnvKey           = "CONSENT_METRICS_PROVIDER_NAME"
	allowedMetricsProviderFlagUsage = "The metrics provider name (for example: 'prometheus' etc.). " +
		commonEnvVarUsageText + metricsProviderEnvKey

	promHTTPURLFlagName             = "prom-http-url"
	promHTTPURLEnvKey               = "CONSENT_PROM_HTTP_URL"
	allowedPromHTTPURLFlagNameUsage = "URL that exposes the prometheus metrics endpoint. Format: HostName:Port. "

	tracingProviderFlagName  = "tracing-provider"
	tracingProviderEnvKey    = "CONSENT_REST_TRACING_PROVIDER"
	tracingProviderFlagUsage = "The tracing provider (for example, JAEGER). " +
		commonEnvVarUsageText + tracingProviderEnvKey

	tracingCollectorURLFlagName  = "tracing-collector-url"
	tracingCollectorURLEnvKey    = "CONSENT_REST_TRACING_COLLECTOR_URL"
	tracingCollectorURLFlagUsage = "The URL of the tracing collector. " +
		commonEnvVarUsageText + tracingCollectorURLEnvKey

	tracingServiceNameFlagName  = "tracing-service-name"
	tracingServiceNameEnvKey    = "CONSENT_REST_TRACING_SERVICE_NAME"
	tracingServiceNameFlagUsage = "The name of the tracing service. Default: consent-rest. " +
		commonEnvVarUsageText + tracingServiceNameEnvKey

	defaultTracingServiceName = "consent-rest"
)

const (
	defaultConsentTxTTL  = 15 * time.Minute
	defaultAuthRecordTTL = 24 * time.Hour
	defaultSessionTTL    = 15 * time.Minute
	defaultTokenTTL      = 30 * time.Minute
	defaultAppCacheTTL   = time.Hour
)

type startupParameters struct {
	hostURL                         string
	hostURLExternal                 string
	appRegistryURL                  string
	relayerURL                      string
	relayerAPIKey                   string
	sessionGatewayURL               string
	sessionGatewayAPIKey            string
	chainRPCURL                     string
	registryContractAddress         string
	dbParameters                    *dbParameters
	consentTxTTL                    int32
	authRecordTTL                   int32
	sessionTTL                      time.Duration
	tokenTTLMinutes                 int
	appCacheTTL                     time.Duration
	eventTopic                      string
	logLevel                        string
	tlsParameters                   *tlsParameters
	metricsProviderName             string
	prometheusMetricsProviderParams *prometheusMetricsProviderParams
	tracingParams                   *tracingParams
}

type prometheusMetricsProviderParams struct {
	url string
}

type tracingParams struct {
	provider     tracing.SpanExporterType
	collectorURL string
	serviceName  string
}

type dbParameters struct {
	mongoDBURL      string
	redisURLs       []string
	redisPassword   string
	redisMasterName string
	connectTimeout  uint64
}

type tlsParameters struct {
	systemCertPool bool
	caCerts        []string
	serveCertPath  string
	serveKeyPath   string
}

// nolint: funlen
func getStartupParameters(cmd *cobra.Command) (*startupParameters, error) {
	hostURL, err := cmdutils.GetUserSetVarFromString(cmd, hostURLFlagName, hostURLEnvKey, false)
	if err != nil {
		return nil, err
	}

	hostURLExternal := cmdutils.GetUserSetOptionalVarFromString(cmd, hostURLExternalFlagName,
		hostURLExternalEnvKey)

	if hostURLExternal == "" {
		hostURLExternal = hostURL
	}

	appRegistryURL, err := cmdutils.GetUserSetVarFromString(cmd, appRegistryURLFlagName, appRegistryURLEnvKey, false)
	if err != nil {
		return nil, err
	}

	relayerURL, err := cmdutils.GetUserSetVarFromString(cmd, relayerURLFlagName, relayerURLEnvKey, false)
	if err != nil {
		return nil, err
	}

	relayerAPIKey := cmdutils.GetUserSetOptionalVarFromString(cmd, relayerAPIKeyFlagName, relayerAPIKeyEnvKey)

	sessionGatewayURL, err := cmdutils.GetUserSetVarFromString(cmd, sessionGatewayURLFlagName,
		sessionGatewayURLEnvKey, false)
	if err != nil {
		return nil, err
	}

	sessionGatewayAPIKey := cmdutils.GetUserSetOptionalVarFromString(cmd, sessionGatewayAPIKeyFlagName,
		sessionGatewayAPIKeyEnvKey)

	chainRPCURL, err := cmdutils.GetUserSetVarFromString(cmd, chainRPCURLFlagName, chainRPCURLEnvKey, false)
	if err != nil {
		return nil, err
	}

	registryContractAddress, err := cmdutils.GetUserSetVarFromString(cmd, registryContractFlagName,
		registryContractEnvKey, false)
	if err != nil {
		return nil, err
	}

	dbParams, err := getDBParameters(cmd)
	if err != nil {
		return nil, err
	}

	consentTxTTL, err := getDuration(cmd, consentTxTTLFlagName, consentTxTTLEnvKey, defaultConsentTxTTL)
	if err != nil {
		return nil, err
	}

	authRecordTTL, err := getDuration(cmd, authRecordTTLFlagName, authRecordTTLEnvKey, defaultAuthRecordTTL)
	if err != nil {
		return nil, err
	}

	sessionTTL, err := getDuration(cmd, sessionTTLFlagName, sessionTTLEnvKey, defaultSessionTTL)
	if err != nil {
		return nil, err
	}

	tokenTTL, err := getDuration(cmd, tokenTTLFlagName, tokenTTLEnvKey, defaultTokenTTL)
	if err != nil {
		return nil, err
	}

	appCacheTTL, err := getDuration(cmd, appCacheTTLFlagName, appCacheTTLEnvKey, defaultAppCacheTTL)
	if err != nil {
		return nil, err
	}

	eventTopic := cmdutils.GetUserSetOptionalVarFromString(cmd, eventTopicFlagName, eventTopicEnvKey)
	if eventTopic == "" {
		eventTopic = spi.ConsentEventTopic
	}

	loggingLevel := cmdutils.GetUserSetOptionalVarFromString(cmd, common.LogLevelFlagName, common.LogLevelEnvKey)

	tlsParameters, err := getTLS(cmd)
	if err != nil {
		return nil, err
	}

	metricsProviderName := cmdutils.GetUserSetOptionalVarFromString(cmd, metricsProviderFlagName,
		metricsProviderEnvKey)

	var prometheusParams *prometheusMetricsProviderParams

	if metricsProviderName == "prometheus" {
		promMetricsURL, promErr := cmdutils.GetUserSetVarFromString(cmd, promHTTPURLFlagName, promHTTPURLEnvKey, false)
		if promErr != nil {
			return nil, promErr
		}

		prometheusParams = &prometheusMetricsProviderParams{url: promMetricsURL}
	}

	tracingParams, err := getTracingParams(cmd)
	if err != nil {
		return nil, err
	}

	return &startupParameters{
		hostURL:                         hostURL,
		hostURLExternal:                 hostURLExternal,
		appRegistryURL:                  appRegistryURL,
		relayerURL:                      relayerURL,
		relayerAPIKey:                   relayerAPIKey,
		sessionGatewayURL:               sessionGatewayURL,
		sessionGatewayAPIKey:            sessionGatewayAPIKey,
		chainRPCURL:                     chainRPCURL,
		registryContractAddress:         registryContractAddress,
		dbParameters:                    dbParams,
		consentTxTTL:                    int32(consentTxTTL.Seconds()),
		authRecordTTL:                   int32(authRecordTTL.Seconds()),
		sessionTTL:                      sessionTTL,
		tokenTTLMinutes:                 int(tokenTTL.Minutes()),
		appCacheTTL:                     appCacheTTL,
		eventTopic:                      eventTopic,
		logLevel:                        loggingLevel,
		tlsParameters:                   tlsParameters,
		metricsProviderName:             metricsProviderName,
		prometheusMetricsProviderParams: prometheusParams,
		tracingParams:                   tracingParams,
	}, nil
}

func getTLS(cmd *cobra.Command) (*tlsParameters, error) {
	tlsSystemCertPoolString := cmdutils.GetUserSetOptionalVarFromString(cmd, tlsSystemCertPoolFlagName,
		tlsSystemCertPoolEnvKey)

	tlsSystemCertPool := false

	if tlsSystemCertPoolString != "" {
		var err error

		tlsSystemCertPool, err = strconv.ParseBool(tlsSystemCertPoolString)
		if err != nil {
			return nil, err
		}
	}

	tlsCACerts := cmdutils.GetUserSetOptionalVarFromArrayString(cmd, tlsCACertsFlagName, tlsCACertsEnvKey)

	tlsServeCertPath := cmdutils.GetUserSetOptionalVarFromString(cmd, tlsCertificateFlagName, tlsCertificateEnvKey)

	tlsServeKeyPath := cmdutils.GetUserSetOptionalVarFromString(cmd, tlsKeyFlagName, tlsKeyEnvKey)

	return &tlsParameters{
		systemCertPool: tlsSystemCertPool,
		caCerts:        tlsCACerts,
		serveCertPath:  tlsServeCertPath,
		serveKeyPath:   tlsServeKeyPath,
	}, nil
}

func getDBParameters(cmd *cobra.Command) (*dbParameters, error) {
	mongoDBURL, err := cmdutils.GetUserSetVarFromString(cmd, mongoDBURLFlagName, mongoDBURLEnvKey, false)
	if err != nil {
		return nil, err
	}

	redisURLs := cmdutils.GetUserSetOptionalCSVVar(cmd, redisURLFlagName, redisURLEnvKey)
	if len(redisURLs) == 0 {
		return nil, fmt.Errorf("neither %s (command line flag) nor %s (environment variable) have been set",
			redisURLFlagName, redisURLEnvKey)
	}

	redisPassword := cmdutils.GetUserSetOptionalVarFromString(cmd, redisPasswordFlagName, redisPasswordEnvKey)

	redisMasterName := cmdutils.GetUserSetOptionalVarFromString(cmd, redisMasterNameFlagName, redisMasterNameEnvKey)

	connectTimeoutStr := cmdutils.GetUserSetOptionalVarFromString(cmd, connectTimeoutFlagName, connectTimeoutEnvKey)

	connectTimeout := uint64(common.ConnectTimeoutDefault)

	if connectTimeoutStr != "" {
		connectTimeout, err = strconv.ParseUint(connectTimeoutStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value [%s]: %w", connectTimeoutStr, err)
		}
	}

	return &dbParameters{
		mongoDBURL:      mongoDBURL,
		redisURLs:       redisURLs,
		redisPassword:   redisPassword,
		redisMasterName: redisMasterName,
		connectTimeout:  connectTimeout,
	}, nil
}

func getDuration(cmd *cobra.Command, flagName, envKey string,
	defaultDuration time.Duration) (time.Duration, error) {
	timeoutStr, err := cmdutils.GetUserSetVarFromString(cmd, flagName, envKey, true)
	if err != nil {
		return -1, err
	}

	if timeoutStr == "" {
		return defaultDuration, nil
	}

	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return -1, fmt.Errorf("invalid value [%s]: %w", timeoutStr, err)
	}

	return timeout, nil
}

func getTracingParams(cmd *cobra.Command) (*tracingParams, error) {
	serviceName := cmdutils.GetOptionalString(cmd, tracingServiceNameFlagName, tracingServiceNameEnvKey)
	if serviceName == "" {
		serviceName = defaultTracingServiceName
	}

	params := &tracingParams{
		provider:    cmdutils.GetOptionalString(cmd, tracingProviderFlagName, tracingProviderEnvKey),
		serviceName: serviceName,
	}

	switch params.provider {
	case tracing.None, tracing.Stdout:
		return params, nil
	case tracing.Jaeger:
		var err error

		params.collectorURL, err = cmdutils.GetString(cmd, tracingCollectorURLFlagName, tracingCollectorURLEnvKey, false)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported tracing provider: %s", params.provider)
	}

	return params, nil
}

func createFlags(startCmd *cobra.Command) {
	startCmd.Flags().StringP(hostURLFlagName, hostURLFlagShorthand, "", hostURLFlagUsage)
	startCmd.Flags().StringP(hostURLExternalFlagName, hostURLExternalFlagShorthand, "", hostURLExternalFlagUsage)
	startCmd.Flags().StringP(appRegistryURLFlagName, "", "", appRegistryURLFlagUsage)
	startCmd.Flags().StringP(relayerURLFlagName, "", "", relayerURLFlagUsage)
	startCmd.Flags().StringP(relayerAPIKeyFlagName, "", "", relayerAPIKeyFlagUsage)
	startCmd.Flags().StringP(sessionGatewayURLFlagName, "", "", sessionGatewayURLFlagUsage)
	startCmd.Flags().StringP(sessionGatewayAPIKeyFlagName, "", "", sessionGatewayAPIKeyFlagUsage)
	startCmd.Flags().StringP(chainRPCURLFlagName, "", "", chainRPCURLFlagUsage)
	startCmd.Flags().StringP(registryContractFlagName, "", "", registryContractFlagUsage)
	startCmd.Flags().StringP(mongoDBURLFlagName, "", "", mongoDBURLFlagUsage)
	startCmd.Flags().StringSliceP(redisURLFlagName, "", []string{}, redisURLFlagUsage)
	startCmd.Flags().StringP(redisPasswordFlagName, "", "", redisPasswordFlagUsage)
	startCmd.Flags().StringP(redisMasterNameFlagName, "", "", redisMasterNameFlagUsage)
	startCmd.Flags().StringP(connectTimeoutFlagName, "", "", connectTimeoutFlagUsage)
	startCmd.Flags().StringP(consentTxTTLFlagName, "", "", consentTxTTLFlagUsage)
	startCmd.Flags().StringP(authRecordTTLFlagName, "", "", authRecordTTLFlagUsage)
	startCmd.Flags().StringP(sessionTTLFlagName, "", "", sessionTTLFlagUsage)
	startCmd.Flags().StringP(tokenTTLFlagName, "", "", tokenTTLFlagUsage)
	startCmd.Flags().StringP(appCacheTTLFlagName, "", "", appCacheTTLFlagUsage)
	startCmd.Flags().StringP(eventTopicFlagName, "", "", eventTopicFlagUsage)
	startCmd.Flags().StringP(common.LogLevelFlagName, common.LogLevelFlagShorthand, "", common.LogLevelPrefixFlagUsage)
	startCmd.Flags().StringP(tlsSystemCertPoolFlagName, "", "", tlsSystemCertPoolFlagUsage)
	startCmd.Flags().StringSliceP(tlsCACertsFlagName, "", []string{}, tlsCACertsFlagUsage)
	startCmd.Flags().StringP(tlsCertificateFlagName, "", "", tlsCertificateFlagUsage)
	startCmd.Flags().StringP(tlsKeyFlagName, "", "", tlsKeyFlagUsage)
	startCmd.Flags().StringP(metricsProviderFlagName, "", "", allowedMetricsProviderFlagUsage)
	startCmd.Flags().StringP(promHTTPURLFlagName, "", "", allowedPromHTTPURLFlagNameUsage)
	startCmd.Flags().StringP(tracingProviderFlagName, "", "", tracingProviderFlagUsage)
	startCmd.Flags().StringP(tracingCollectorURLFlagName, "", "", tracingCollectorURLFlagUsage)
	startCmd.Flags().StringP(tracingServiceNameFlagName, "", "", tracingServiceNameFlagUsage)
}
