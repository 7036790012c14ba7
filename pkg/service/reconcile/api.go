/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package reconcile

import (
	"context"

	"github.com/agentgrant/consent/pkg/chainregistry"
	"github.com/agentgrant/consent/pkg/consentsession"
)

// Step identifies one ordered reconciliation step.
type Step string

const (
	StepRegisterTools  Step = "register-tools"
	StepAddDelegatees  Step = "add-delegatees"
	StepPermitTools    Step = "permit-tools"
	StepAttachPolicies Step = "attach-policies"
	StepSyncParameters Step = "sync-parameters"
)

// ParameterGroup is one declared parameter group. Value names are derived
// positionally from the group type, so both sides of a diff must use the
// same value ordering.
type ParameterGroup struct {
	Type   string   `json:"type"`
	Values []string `json:"values"`
}

// DesiredGrant is the full target permission state the user approved,
// parameter edits included.
type DesiredGrant struct {
	Delegatees []string         `json:"delegatees"`
	Tools      []string         `json:"tools"`
	Policies   []string         `json:"policies"`
	Parameters []ParameterGroup `json:"parameters"`
}

// Request carries one reconciliation run. Current must be a fresh read
// taken just before the run, never the initiate-time snapshot.
type Request struct {
	TokenID string
	Desired *DesiredGrant
	Current *chainregistry.CurrentGrant
	Bundle  *consentsession.Bundle
}

// StepResult reports the writes one step issued. A step with nothing to do
// is recorded as skipped.
type StepResult struct {
	Step     Step     `json:"step"`
	Writes   int      `json:"writes"`
	TxHashes []string `json:"txHashes,omitempty"`
	Skipped  bool     `json:"skipped"`
}

// Receipt proves what the run did and whether the verification re-read
// matched the desired grant afterwards.
type Receipt struct {
	Steps      []StepResult `json:"steps"`
	Verified   bool         `json:"verified"`
	Divergence []string     `json:"divergence,omitempty"`
}

// TotalWrites is the number of on-chain writes the run issued.
func (r *Receipt) TotalWrites() int {
	total := 0

	for _, step := range r.Steps {
		total += step.Writes
	}

	return total
}

type grantReader interface {
	ReadCurrentGrant(
		ctx context.Context, tokenID string, query *chainregistry.Query) (*chainregistry.CurrentGrant, error)
}

type writeExecutor interface {
	Execute(
		ctx context.Context,
		call *chainregistry.WriteCall,
		signer consentsession.Signer,
	) (*chainregistry.WriteResult, error)
}
