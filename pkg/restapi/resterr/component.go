/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package resterr

type Component string

const (
	ConsentSvcComponent       Component = "consent.service"
	ReconcileSvcComponent     Component = "consent.reconcile-service"
	SessionProviderComponent  Component = "consent.session-provider"
	TokenIssuerComponent      Component = "consent.token-issuer"
	ChainRegistryComponent    Component = "chain-registry"
	AppRegistryComponent      Component = "app-registry-client"
	RelayerComponent          Component = "relayer-client"
	TransactionStoreComponent Component = "transaction-store"
	SessionStoreComponent     Component = "session-store"
	RedisComponent            Component = "redis-service"
	MongoComponent            Component = "mongo-service"
)
