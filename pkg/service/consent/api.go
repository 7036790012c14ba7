/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package consent

import (
	"context"
	"errors"
	"time"

	"github.com/agentgrant/consent/pkg/chainregistry"
	"github.com/agentgrant/consent/pkg/client/relayer"
	"github.com/agentgrant/consent/pkg/consentsession"
	"github.com/agentgrant/consent/pkg/event/spi"
	"github.com/agentgrant/consent/pkg/profile"
	"github.com/agentgrant/consent/pkg/service/reconcile"
)

var ErrDataNotFound = errors.New("data not found")

// TxID is the id of a consent transaction.
type TxID string

// TransactionState is the consent flow state machine position.
type TransactionState int16

const (
	TransactionStateUnknown               = TransactionState(0)
	TransactionStateResolvingRequest      = TransactionState(1)
	TransactionStateCheckingExistingGrant = TransactionState(2)
	TransactionStateAutoApproved          = TransactionState(3)
	TransactionStateAwaitingUserDecision  = TransactionState(4)
	TransactionStateApproving             = TransactionState(5)
	TransactionStateCompleted             = TransactionState(6)
	TransactionStateDenying               = TransactionState(7)
	TransactionStateDenied                = TransactionState(8)
	TransactionStateFailed                = TransactionState(9)
)

//nolint:gocyclo
func (s TransactionState) String() string {
	switch s {
	case TransactionStateResolvingRequest:
		return "resolving-request"
	case TransactionStateCheckingExistingGrant:
		return "checking-existing-grant"
	case TransactionStateAutoApproved:
		return "auto-approved"
	case TransactionStateAwaitingUserDecision:
		return "awaiting-user-decision"
	case TransactionStateApproving:
		return "approving"
	case TransactionStateCompleted:
		return "completed"
	case TransactionStateDenying:
		return "denying"
	case TransactionStateDenied:
		return "denied"
	case TransactionStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition except Failed is possible.
func (s TransactionState) Terminal() bool {
	return s == TransactionStateAutoApproved ||
		s == TransactionStateCompleted ||
		s == TransactionStateDenied ||
		s == TransactionStateFailed
}

// Transaction is a single consent flow instance.
type Transaction struct {
	ID TxID
	TransactionData
}

// TransactionData is the stored portion of a consent transaction.
type TransactionData struct {
	State            TransactionState          `json:"state"`
	AppID            string                    `json:"appId"`
	AppName          string                    `json:"appName,omitempty"`
	AppVersion       int                       `json:"appVersion"`
	RoleID           string                    `json:"roleId,omitempty"`
	ManagementWallet string                    `json:"managementWallet,omitempty"`
	ReferrerOrigin   string                    `json:"referrerOrigin"`
	AuthMethod       consentsession.MethodKind `json:"authMethod,omitempty"`
	AuthKey          string                    `json:"authKey,omitempty"`
	PKP              *profile.AgentPKP         `json:"pkp,omitempty"`
	Desired          *reconcile.DesiredGrant   `json:"desired,omitempty"`
	Review           *ReviewPayload            `json:"review,omitempty"`
	RedirectURL      string                    `json:"redirectUrl,omitempty"`
	ErrorCode        string                    `json:"errorCode,omitempty"`
}

// EditableParameter is one policy parameter the user may override before
// approving, pre-filled with the role descriptor's default.
type EditableParameter struct {
	Name         string `json:"name"`
	DefaultValue string `json:"defaultValue"`
	ValueType    string `json:"valueType"`
}

// ReviewPayload is what the user reviews before deciding.
type ReviewPayload struct {
	AppName     string              `json:"appName"`
	Description string              `json:"description,omitempty"`
	Tools       []string            `json:"tools"`
	Policies    []string            `json:"policies,omitempty"`
	Parameters  []EditableParameter `json:"parameters,omitempty"`
}

// InitiateFlowRequest starts a consent flow for one application.
type InitiateFlowRequest struct {
	AppID          string
	RoleID         string
	ReferrerOrigin string
	AuthProof      *consentsession.AuthProof
}

// InitiateFlowResponse carries either a review payload or, on
// auto-approval, the token-bearing redirect.
type InitiateFlowResponse struct {
	TxID        TxID
	State       TransactionState
	Review      *ReviewPayload
	RedirectURL string
}

// ApproveRequest applies the user's approval, parameter edits included.
type ApproveRequest struct {
	TxID         TxID
	EditedParams []reconcile.ParameterGroup
	AuthProof    *consentsession.AuthProof
}

// ApproveResponse carries the token-bearing redirect and the
// reconciliation receipt.
type ApproveResponse struct {
	RedirectURL string
	Receipt     *reconcile.Receipt
}

// AuthRecord is the stored authentication material for one auth identity.
// Cleared on denial so a stale session is never reused.
type AuthRecord struct {
	Method          consentsession.MethodKind `json:"method"`
	AuthenticatedAt time.Time                 `json:"authenticatedAt"`
	PKP             *profile.AgentPKP         `json:"pkp"`
}

type transactionStore interface {
	Create(ctx context.Context, data *TransactionData) (*Transaction, error)
	Get(ctx context.Context, txID TxID) (*Transaction, error)
	Update(ctx context.Context, tx *Transaction) error
}

type sessionStore interface {
	Put(ctx context.Context, txID TxID, bundle *consentsession.Bundle) error
	Get(ctx context.Context, txID TxID) (*consentsession.Bundle, error)
	Delete(ctx context.Context, txID TxID) error
}

type authRecordStore interface {
	Get(ctx context.Context, authKey string) (*AuthRecord, error)
	Put(ctx context.Context, authKey string, record *AuthRecord) error
	Delete(ctx context.Context, authKey string) error
}

type sessionProvider interface {
	GetSessionMaterial(
		ctx context.Context,
		keyPairPublicKey string,
		proof *consentsession.AuthProof,
		abilities []consentsession.Ability,
	) (*consentsession.Bundle, error)
}

type grantReader interface {
	IsAppPermitted(ctx context.Context, tokenID, appID string) (bool, error)
	ReadCurrentGrant(
		ctx context.Context, tokenID string, query *chainregistry.Query) (*chainregistry.CurrentGrant, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, req *reconcile.Request) (*reconcile.Receipt, error)
}

type tokenIssuer interface {
	Issue(
		ctx context.Context,
		pkp *profile.AgentPKP,
		bundle *consentsession.Bundle,
		audience string,
		payload map[string]string,
	) (string, error)
}

type appRegistry interface {
	GetAppMetadata(ctx context.Context, appID string) (*profile.App, error)
	GetRole(ctx context.Context, managementWallet, roleID string) (*profile.Role, error)
}

type pkpMinter interface {
	MintAgentPKP(ctx context.Context, req *relayer.MintRequest) (*relayer.MintResult, error)
}

type eventService interface {
	Publish(ctx context.Context, topic string, messages ...*spi.Event) error
}

// ServiceInterface is the consent orchestrator surface the REST layer
// consumes.
type ServiceInterface interface {
	InitiateFlow(ctx context.Context, req *InitiateFlowRequest) (*InitiateFlowResponse, error)
	Approve(ctx context.Context, req *ApproveRequest) (*ApproveResponse, error)
	Deny(ctx context.Context, txID TxID) (string, error)
	GetFlowState(ctx context.Context, txID TxID) (*Transaction, error)
}
