/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package chainregistry reads and writes the on-chain delegation registry.
// The registry contract itself is an external collaborator; it is consumed
// through the caller/transactor interfaces by method name only.
package chainregistry

import (
	"context"

	"github.com/agentgrant/consent/pkg/consentsession"
)

// Registry write method names.
const (
	MethodRegisterTools                      = "registerTools"
	MethodAddDelegatees                      = "addDelegatees"
	MethodPermitToolsForDelegatees           = "permitToolsForDelegatees"
	MethodSetToolPoliciesForDelegatees       = "setToolPoliciesForDelegatees"
	MethodSetToolPolicyParametersForDelegatee = "setToolPolicyParametersForDelegatee"
)

// ToolState is a registered tool and its enabled flag.
type ToolState struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

// ToolWithPolicy describes a tool with policies attached for delegatees.
type ToolWithPolicy struct {
	ToolID     string   `json:"toolId"`
	Delegatees []string `json:"delegatees"`
	PolicyIDs  []string `json:"policyIds"`
}

// ParameterValue is one named, ABI-encoded policy parameter value.
type ParameterValue struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

// Query scopes a grant-state read to the delegatees, tools and parameter
// names the caller is about to diff against.
type Query struct {
	Delegatees     []string
	Tools          []string
	ParameterNames []string
}

// CurrentGrant is a best-effort snapshot of what is recorded on-chain for
// one (key-pair, application) pair. The individual reads are not atomic, so
// the snapshot is advisory for diffing, never transactional.
type CurrentGrant struct {
	Delegatees        []string
	RegisteredTools   []ToolState
	ToolsWithPolicies []ToolWithPolicy
	PermittedTools    map[string][]string
	Parameters        map[string][]ParameterValue
}

// WriteCall is one registry write, identified by ABI method name.
type WriteCall struct {
	Method  string
	TokenID string
	Args    []interface{}
}

// WriteResult reports one confirmed registry write.
type WriteResult struct {
	TxHash   string
	GasLimit uint64
}

// contractCaller performs read-only registry queries.
type contractCaller interface {
	GetDelegatees(ctx context.Context, tokenID string) ([]string, error)
	GetAllRegisteredTools(ctx context.Context, tokenID string) ([]ToolState, error)
	GetToolsWithPolicy(ctx context.Context, tokenID string) ([]ToolWithPolicy, error)
	GetPermittedToolsForDelegatee(ctx context.Context, tokenID, delegatee string) ([]string, error)
	GetToolPolicyParameters(
		ctx context.Context, tokenID, toolID, delegatee string, parameterNames []string,
	) ([]ParameterValue, error)
	GetAllPermittedAppIDsForPKP(ctx context.Context, tokenID string) ([]string, error)
}

// contractTransactor submits registry writes signed with session material.
type contractTransactor interface {
	EstimateGas(ctx context.Context, call *WriteCall, signer consentsession.Signer) (uint64, error)
	Submit(ctx context.Context, call *WriteCall, gasLimit uint64, signer consentsession.Signer) (string, error)
	WaitMined(ctx context.Context, txHash string) error
}
