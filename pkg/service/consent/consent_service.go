/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package consent orchestrates the consent flow state machine: resolve the
// requesting application and the user's delegated key-pair, check for an
// existing grant, collect the user decision, reconcile on-chain permission
// state and issue the capability token carried back on the redirect.
package consent

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/agentgrant/consent/internal/logfields"
	"github.com/agentgrant/consent/pkg/chainregistry"
	"github.com/agentgrant/consent/pkg/client/relayer"
	"github.com/agentgrant/consent/pkg/consentsession"
	noopMetricsProvider "github.com/agentgrant/consent/pkg/observability/metrics/noop"
	"github.com/agentgrant/consent/pkg/profile"
	"github.com/agentgrant/consent/pkg/restapi/resterr"
	"github.com/agentgrant/consent/pkg/service/reconcile"
)

var logger = log.New("consent-service")

var sessionAbilities = []consentsession.Ability{
	consentsession.AbilitySignWithKey,
	consentsession.AbilityExecuteAction,
}

// auth method type codes used by the relayer mint API.
var mintMethodTypes = map[consentsession.MethodKind]int{
	consentsession.MethodWallet:   1,
	consentsession.MethodWebAuthn: 3,
	consentsession.MethodOTP:      7,
}

// Config holds configuration options and dependencies for Service.
type Config struct {
	TransactionStore transactionStore
	SessionStore     sessionStore
	AuthRecordStore  authRecordStore
	SessionProvider  sessionProvider
	GrantReader      grantReader
	Reconciler       reconciler
	TokenIssuer      tokenIssuer
	AppRegistry      appRegistry
	PKPMinter        pkpMinter
	EventService     eventService
	EventTopic       string
	Metrics          metricsProvider
}

type metricsProvider interface {
	ReconcileGrantTime(value time.Duration)
	IssueTokenTime(value time.Duration)
}

// Service implements the consent flow orchestrator.
type Service struct {
	store           transactionStore
	sessionStore    sessionStore
	authRecordStore authRecordStore
	sessionProvider sessionProvider
	grantReader     grantReader
	reconciler      reconciler
	tokenIssuer     tokenIssuer
	appRegistry     appRegistry
	pkpMinter       pkpMinter
	eventSvc        eventService
	eventTopic      string
	metrics         metricsProvider
}

// NewService returns a new Service instance.
func NewService(config *Config) *Service {
	metrics := config.Metrics

	if metrics == nil {
		metrics = &noopMetricsProvider.NoMetrics{}
	}

	return &Service{
		store:           config.TransactionStore,
		sessionStore:    config.SessionStore,
		authRecordStore: config.AuthRecordStore,
		sessionProvider: config.SessionProvider,
		grantReader:     config.GrantReader,
		reconciler:      config.Reconciler,
		tokenIssuer:     config.TokenIssuer,
		appRegistry:     config.AppRegistry,
		pkpMinter:       config.PKPMinter,
		eventSvc:        config.EventService,
		eventTopic:      config.EventTopic,
		metrics:         metrics,
	}
}

// InitiateFlow resolves the requesting application and the user's delegated
// key-pair, then either auto-approves (the application already holds a
// grant) or parks the transaction awaiting the user's decision.
func (s *Service) InitiateFlow(ctx context.Context, req *InitiateFlowRequest) (*InitiateFlowResponse, error) {
	if err := validateInitiateRequest(req); err != nil {
		return nil, err
	}

	tx, err := s.store.Create(ctx, &TransactionData{
		State:          TransactionStateResolvingRequest,
		AppID:          req.AppID,
		RoleID:         req.RoleID,
		ReferrerOrigin: req.ReferrerOrigin,
		AuthMethod:     req.AuthProof.Kind,
		AuthKey:        authKey(req.AuthProof),
	})
	if err != nil {
		return nil, resterr.NewSystemError(fmt.Errorf("create tx: %w", err)).
			WithComponent(resterr.TransactionStoreComponent)
	}

	logger.Debugc(ctx, "consent flow initiated",
		logfields.WithTxID(string(tx.ID)), logfields.WithAppID(req.AppID))

	if err = s.sendTxEvent(ctx, tx, eventInitiated); err != nil {
		return nil, err
	}

	resp, err := s.resolveAndCheck(ctx, tx, req)
	if err != nil {
		return nil, s.fail(ctx, tx, err)
	}

	return resp, nil
}

func (s *Service) resolveAndCheck(
	ctx context.Context,
	tx *Transaction,
	req *InitiateFlowRequest,
) (*InitiateFlowResponse, error) {
	app, role, err := s.resolveApp(ctx, req)
	if err != nil {
		return nil, err
	}

	pkp, err := s.resolvePKP(ctx, req.AuthProof)
	if err != nil {
		return nil, err
	}

	bundle, err := s.sessionProvider.GetSessionMaterial(ctx, pkp.PublicKey, req.AuthProof, sessionAbilities)
	if err != nil {
		return nil, err
	}

	if err = s.sessionStore.Put(ctx, tx.ID, bundle); err != nil {
		return nil, resterr.NewSystemError(fmt.Errorf("store session bundle: %w", err)).
			WithComponent(resterr.SessionStoreComponent)
	}

	tx.AppName = app.Name
	tx.AppVersion = app.LatestVersion
	tx.ManagementWallet = app.ManagementWallet
	tx.PKP = pkp
	tx.Desired = desiredGrant(app, role)
	tx.Review = reviewPayload(app, role)

	if err = s.transition(ctx, tx, TransactionStateCheckingExistingGrant); err != nil {
		return nil, err
	}

	permitted, err := s.grantReader.IsAppPermitted(ctx, pkp.TokenID, tx.AppID)
	if err != nil {
		return nil, err
	}

	if permitted {
		return s.autoApprove(ctx, tx, bundle)
	}

	if err = s.transition(ctx, tx, TransactionStateAwaitingUserDecision); err != nil {
		return nil, err
	}

	return &InitiateFlowResponse{
		TxID:   tx.ID,
		State:  tx.State,
		Review: tx.Review,
	}, nil
}

// autoApprove issues the token immediately; no reconciliation runs because
// the grant is already recorded on-chain.
func (s *Service) autoApprove(
	ctx context.Context,
	tx *Transaction,
	bundle *consentsession.Bundle,
) (*InitiateFlowResponse, error) {
	token, err := s.tokenIssuer.Issue(ctx, tx.PKP, bundle, tx.ReferrerOrigin, s.tokenPayload(tx))
	if err != nil {
		return nil, err
	}

	tx.RedirectURL = redirectWithToken(tx.ReferrerOrigin, token)

	if err = s.transition(ctx, tx, TransactionStateAutoApproved); err != nil {
		return nil, err
	}

	if err = s.sendTxEvent(ctx, tx, eventAutoApproved); err != nil {
		return nil, err
	}

	logger.Infoc(ctx, "existing grant found, auto-approved",
		logfields.WithTxID(string(tx.ID)), logfields.WithAppID(tx.AppID))

	return &InitiateFlowResponse{
		TxID:        tx.ID,
		State:       tx.State,
		RedirectURL: tx.RedirectURL,
	}, nil
}

// Approve applies the user's approval. The transition to Approving is the
// serialization point: a second approve finds the transaction already in
// Approving and is rejected, so two clicks never start overlapping
// reconciliation runs.
func (s *Service) Approve(ctx context.Context, req *ApproveRequest) (*ApproveResponse, error) {
	tx, err := s.getTx(ctx, req.TxID)
	if err != nil {
		return nil, err
	}

	if err = s.transition(ctx, tx, TransactionStateApproving); err != nil {
		return nil, err
	}

	resp, err := s.approve(ctx, tx, req)
	if err != nil {
		return nil, s.approveFailed(ctx, tx, err)
	}

	return resp, nil
}

func (s *Service) approve(ctx context.Context, tx *Transaction, req *ApproveRequest) (*ApproveResponse, error) {
	bundle, err := s.sessionBundle(ctx, tx, req.AuthProof)
	if err != nil {
		return nil, err
	}

	desired := applyParameterEdits(tx.Desired, req.EditedParams)
	names, _ := desiredParameterNames(desired)

	// never reuse the initiate-time read: the registry may have changed
	// while the user was deciding
	current, err := s.grantReader.ReadCurrentGrant(ctx, tx.PKP.TokenID, &chainregistry.Query{
		Delegatees:     desired.Delegatees,
		Tools:          desired.Tools,
		ParameterNames: names,
	})
	if err != nil {
		return nil, err
	}

	reconcileStarted := time.Now()

	receipt, err := s.reconciler.Reconcile(ctx, &reconcile.Request{
		TokenID: tx.PKP.TokenID,
		Desired: desired,
		Current: current,
		Bundle:  bundle,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ReconcileGrantTime(time.Since(reconcileStarted))

	issueStarted := time.Now()

	token, err := s.tokenIssuer.Issue(ctx, tx.PKP, bundle, tx.ReferrerOrigin, s.tokenPayload(tx))
	if err != nil {
		return nil, err
	}

	s.metrics.IssueTokenTime(time.Since(issueStarted))

	tx.Desired = desired
	tx.RedirectURL = redirectWithToken(tx.ReferrerOrigin, token)

	if err = s.transition(ctx, tx, TransactionStateCompleted); err != nil {
		return nil, err
	}

	if err = s.sendTxEvent(ctx, tx, eventApproved); err != nil {
		return nil, err
	}

	logger.Infoc(ctx, "consent flow approved",
		logfields.WithTxID(string(tx.ID)),
		logfields.WithAppID(tx.AppID),
		logfields.WithWrites(receipt.TotalWrites()))

	return &ApproveResponse{
		RedirectURL: tx.RedirectURL,
		Receipt:     receipt,
	}, nil
}

// Deny terminates the flow without a token. Session material and the stored
// authentication record are cleared before the redirect so a stale session
// cannot be reused.
func (s *Service) Deny(ctx context.Context, txID TxID) (string, error) {
	tx, err := s.getTx(ctx, txID)
	if err != nil {
		return "", err
	}

	if err = s.transition(ctx, tx, TransactionStateDenying); err != nil {
		return "", err
	}

	if err = s.clearAuthMaterial(ctx, tx); err != nil {
		return "", s.fail(ctx, tx, err)
	}

	tx.RedirectURL = tx.ReferrerOrigin

	if err = s.transition(ctx, tx, TransactionStateDenied); err != nil {
		return "", err
	}

	if err = s.sendTxEvent(ctx, tx, eventDenied); err != nil {
		return "", err
	}

	logger.Infoc(ctx, "consent flow denied", logfields.WithTxID(string(tx.ID)))

	return tx.RedirectURL, nil
}

// GetFlowState returns the transaction for status polling.
func (s *Service) GetFlowState(ctx context.Context, txID TxID) (*Transaction, error) {
	return s.getTx(ctx, txID)
}

func (s *Service) getTx(ctx context.Context, txID TxID) (*Transaction, error) {
	tx, err := s.store.Get(ctx, txID)
	if err != nil {
		if errors.Is(err, ErrDataNotFound) {
			return nil, resterr.NewConfigurationError(fmt.Errorf("transaction %s not found", txID)).
				WithComponent(resterr.ConsentSvcComponent).
				WithIncorrectValue(string(txID))
		}

		return nil, resterr.NewSystemError(fmt.Errorf("get tx: %w", err)).
			WithComponent(resterr.TransactionStoreComponent)
	}

	return tx, nil
}

// sessionBundle returns the live session bundle for the flow, re-acquiring
// it when the stored one is gone or expired and a fresh proof was supplied.
func (s *Service) sessionBundle(
	ctx context.Context,
	tx *Transaction,
	proof *consentsession.AuthProof,
) (*consentsession.Bundle, error) {
	bundle, err := s.sessionStore.Get(ctx, tx.ID)
	if err == nil {
		return bundle, nil
	}

	if !errors.Is(err, ErrDataNotFound) {
		return nil, resterr.NewSystemError(fmt.Errorf("get session bundle: %w", err)).
			WithComponent(resterr.SessionStoreComponent)
	}

	if proof == nil {
		return nil, resterr.NewAuthenticationFailed(
			errors.New("session material expired, re-authentication required")).
			WithComponent(resterr.ConsentSvcComponent)
	}

	bundle, err = s.sessionProvider.GetSessionMaterial(ctx, tx.PKP.PublicKey, proof, sessionAbilities)
	if err != nil {
		return nil, err
	}

	if err = s.sessionStore.Put(ctx, tx.ID, bundle); err != nil {
		return nil, resterr.NewSystemError(fmt.Errorf("store session bundle: %w", err)).
			WithComponent(resterr.SessionStoreComponent)
	}

	return bundle, nil
}

func (s *Service) resolveApp(ctx context.Context, req *InitiateFlowRequest) (*profile.App, *profile.Role, error) {
	app, err := s.appRegistry.GetAppMetadata(ctx, req.AppID)
	if err != nil {
		return nil, nil, err
	}

	if len(app.Delegatees) == 0 || len(app.ToolIdentifiers) == 0 {
		return nil, nil, resterr.NewConfigurationError(
			fmt.Errorf("application %s declares no delegatees or tools", req.AppID)).
			WithComponent(resterr.ConsentSvcComponent).
			WithIncorrectValue(req.AppID)
	}

	var role *profile.Role

	if req.RoleID != "" {
		role, err = s.appRegistry.GetRole(ctx, app.ManagementWallet, req.RoleID)
		if err != nil {
			return nil, nil, err
		}
	}

	return app, role, nil
}

// resolvePKP returns the user's delegated key-pair, minting one through the
// relayer when the user has none. Minting happens at most once per auth
// identity.
func (s *Service) resolvePKP(ctx context.Context, proof *consentsession.AuthProof) (*profile.AgentPKP, error) {
	key := authKey(proof)

	record, err := s.authRecordStore.Get(ctx, key)
	if err == nil {
		return record.PKP, nil
	}

	if !errors.Is(err, ErrDataNotFound) {
		return nil, resterr.NewSystemError(fmt.Errorf("get auth record: %w", err)).
			WithComponent(resterr.SessionStoreComponent)
	}

	result, err := s.pkpMinter.MintAgentPKP(ctx, &relayer.MintRequest{
		KeyType: 2,
		AuthMethods: []relayer.AuthMethod{
			{Type: mintMethodTypes[proof.Kind], ID: key},
		},
		SendPKPToItself: true,
	})
	if err != nil {
		return nil, err
	}

	logger.Infoc(ctx, "minted delegated key-pair",
		logfields.WithPKPTokenID(result.PKP.TokenID), log.WithID(result.RequestID))

	if err = s.authRecordStore.Put(ctx, key, &AuthRecord{
		Method:          proof.Kind,
		AuthenticatedAt: proof.ProducedAt,
		PKP:             result.PKP,
	}); err != nil {
		return nil, resterr.NewSystemError(fmt.Errorf("store auth record: %w", err)).
			WithComponent(resterr.SessionStoreComponent)
	}

	return result.PKP, nil
}

func (s *Service) clearAuthMaterial(ctx context.Context, tx *Transaction) error {
	if err := s.sessionStore.Delete(ctx, tx.ID); err != nil && !errors.Is(err, ErrDataNotFound) {
		return resterr.NewSystemError(fmt.Errorf("delete session bundle: %w", err)).
			WithComponent(resterr.SessionStoreComponent)
	}

	if tx.AuthKey == "" {
		return nil
	}

	if err := s.authRecordStore.Delete(ctx, tx.AuthKey); err != nil && !errors.Is(err, ErrDataNotFound) {
		return resterr.NewSystemError(fmt.Errorf("delete auth record: %w", err)).
			WithComponent(resterr.SessionStoreComponent)
	}

	return nil
}

// transition validates the state machine edge, applies it and persists the
// transaction. The store update is the serialization point for concurrent
// actions on one transaction.
func (s *Service) transition(ctx context.Context, tx *Transaction, newState TransactionState) error {
	if err := validateStateTransition(tx.State, newState); err != nil {
		return resterr.NewConfigurationError(err).
			WithComponent(resterr.ConsentSvcComponent).
			WithOperation("transition")
	}

	oldState := tx.State
	tx.State = newState

	if err := s.store.Update(ctx, tx); err != nil {
		tx.State = oldState

		return resterr.NewSystemError(fmt.Errorf("update tx: %w", err)).
			WithComponent(resterr.TransactionStoreComponent)
	}

	logger.Debugc(ctx, "state transition",
		logfields.WithTxID(string(tx.ID)),
		logfields.WithFlowState(newState.String()))

	return nil
}

// fail moves the transaction to the terminal Failed state. A failed flow
// never yields a token-bearing redirect.
func (s *Service) fail(ctx context.Context, tx *Transaction, cause error) error {
	tx.RedirectURL = ""
	tx.ErrorCode = string(resterr.FromError(cause).Code)
	tx.State = TransactionStateFailed

	if err := s.store.Update(ctx, tx); err != nil {
		logger.Errorc(ctx, "failed to persist failed state",
			log.WithError(err), logfields.WithTxID(string(tx.ID)))
	}

	if err := s.sendTxEventWithError(ctx, tx, eventFailed, cause); err != nil {
		logger.Errorc(ctx, "failed to publish failure event",
			log.WithError(err), logfields.WithTxID(string(tx.ID)))
	}

	return cause
}

// approveFailed reverts a retryable approve failure to AwaitingUserDecision
// so the user can try again; reconciliation is idempotent, so a retry from
// the top performs no redundant writes. Fatal errors end the flow.
func (s *Service) approveFailed(ctx context.Context, tx *Transaction, cause error) error {
	if !resterr.FromError(cause).Retryable() {
		return s.fail(ctx, tx, cause)
	}

	tx.State = TransactionStateAwaitingUserDecision

	if err := s.store.Update(ctx, tx); err != nil {
		logger.Errorc(ctx, "failed to revert approving state",
			log.WithError(err), logfields.WithTxID(string(tx.ID)))
	}

	if err := s.sendTxEventWithError(ctx, tx, eventFailed, cause); err != nil {
		logger.Errorc(ctx, "failed to publish failure event",
			log.WithError(err), logfields.WithTxID(string(tx.ID)))
	}

	return cause
}

func (s *Service) tokenPayload(tx *Transaction) map[string]string {
	payload := map[string]string{
		"appId":      tx.AppID,
		"appVersion": strconv.Itoa(tx.AppVersion),
	}

	if tx.RoleID != "" {
		payload["roleId"] = tx.RoleID
	}

	return payload
}

func validateInitiateRequest(req *InitiateFlowRequest) error {
	if req.AppID == "" {
		return resterr.NewConfigurationError(errors.New("missing application id")).
			WithComponent(resterr.ConsentSvcComponent)
	}

	origin, err := url.Parse(req.ReferrerOrigin)
	if err != nil || !origin.IsAbs() || origin.Host == "" {
		return resterr.NewConfigurationError(
			fmt.Errorf("referrer origin must be an absolute URL: %q", req.ReferrerOrigin)).
			WithComponent(resterr.ConsentSvcComponent).
			WithIncorrectValue(req.ReferrerOrigin)
	}

	if req.AuthProof == nil {
		return resterr.NewAuthenticationFailed(errors.New("missing auth proof")).
			WithComponent(resterr.ConsentSvcComponent)
	}

	return nil
}

// authKey derives the stored-auth-record key from the proof's identity.
func authKey(proof *consentsession.AuthProof) string {
	switch proof.Kind {
	case consentsession.MethodWallet:
		return strings.ToLower(proof.WalletAddress)
	case consentsession.MethodWebAuthn:
		return proof.CredentialID
	case consentsession.MethodOTP:
		return proof.OTPIdentifier
	default:
		return ""
	}
}

// desiredGrant builds the target permission state from the application's
// latest version, parameter defaults from the role descriptor.
func desiredGrant(app *profile.App, role *profile.Role) *reconcile.DesiredGrant {
	desired := &reconcile.DesiredGrant{
		Delegatees: app.Delegatees,
		Tools:      app.ToolIdentifiers,
		Policies:   app.PolicyIdentifiers,
	}

	if role != nil {
		for _, param := range role.Parameters {
			desired.Parameters = append(desired.Parameters, reconcile.ParameterGroup{
				Type:   param.Name,
				Values: []string{param.DefaultValue},
			})
		}
	}

	return desired
}

func reviewPayload(app *profile.App, role *profile.Role) *ReviewPayload {
	review := &ReviewPayload{
		AppName:     app.Name,
		Description: app.Description,
		Tools:       app.ToolIdentifiers,
		Policies:    app.PolicyIdentifiers,
	}

	if role != nil {
		for _, param := range role.Parameters {
			review.Parameters = append(review.Parameters, EditableParameter{
				Name:         param.Name,
				DefaultValue: param.DefaultValue,
				ValueType:    param.ValueType,
			})
		}
	}

	return review
}

// applyParameterEdits overrides default parameter groups with the user's
// edits, matched by group type. Unknown edit types are ignored.
func applyParameterEdits(
	desired *reconcile.DesiredGrant,
	edits []reconcile.ParameterGroup,
) *reconcile.DesiredGrant {
	merged := &reconcile.DesiredGrant{
		Delegatees: desired.Delegatees,
		Tools:      desired.Tools,
		Policies:   desired.Policies,
	}

	editByType := make(map[string]reconcile.ParameterGroup, len(edits))
	for _, edit := range edits {
		editByType[edit.Type] = edit
	}

	for _, group := range desired.Parameters {
		if edit, ok := editByType[group.Type]; ok {
			group = edit
		}

		merged.Parameters = append(merged.Parameters, group)
	}

	return merged
}

func desiredParameterNames(desired *reconcile.DesiredGrant) ([]string, []string) {
	var names, values []string

	for _, group := range desired.Parameters {
		names = append(names, chainregistry.ParameterNames(group.Type, len(group.Values))...)
		values = append(values, group.Values...)
	}

	return names, values
}

func redirectWithToken(referrerOrigin, token string) string {
	return referrerOrigin + "?jwt=" + url.QueryEscape(token)
}
