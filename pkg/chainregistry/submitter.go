/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package chainregistry

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentgrant/consent/internal/logfields"
	"github.com/agentgrant/consent/internal/retry"
	"github.com/agentgrant/consent/pkg/consentsession"
)

// gasMarginPercent is the fixed safety margin applied on top of the node's
// gas estimate. A write is never submitted with an unestimated or unbounded
// gas limit.
const gasMarginPercent = 20

// Submitter executes registry writes: estimate, apply margin, submit, await
// confirmation.
type Submitter struct {
	transactor  contractTransactor
	retryPolicy retry.Policy
}

// NewSubmitter returns a new Submitter instance.
func NewSubmitter(transactor contractTransactor, retryPolicy retry.Policy) *Submitter {
	return &Submitter{
		transactor:  transactor,
		retryPolicy: retryPolicy,
	}
}

// Execute performs one confirmed registry write.
func (s *Submitter) Execute(
	ctx context.Context,
	call *WriteCall,
	signer consentsession.Signer,
) (*WriteResult, error) {
	estimate, err := s.transactor.EstimateGas(ctx, call, signer)
	if err != nil {
		return nil, fmt.Errorf("estimate gas for %s: %w", call.Method, err)
	}

	if estimate == 0 {
		return nil, fmt.Errorf("refusing unestimated write for %s", call.Method)
	}

	gasLimit := estimate + estimate*gasMarginPercent/100

	txHash, err := s.transactor.Submit(ctx, call, gasLimit, signer)
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", call.Method, err)
	}

	logger.Debugc(ctx, "write submitted, awaiting confirmation",
		logfields.WithTxHash(txHash), logfields.WithPKPTokenID(call.TokenID))

	err = retry.Do(ctx, s.retryPolicy, func() error {
		if waitErr := s.transactor.WaitMined(ctx, txHash); waitErr != nil {
			if errors.Is(waitErr, ErrTxReverted) {
				return retry.Permanent(waitErr)
			}

			return waitErr
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("confirm %s (%s): %w", call.Method, txHash, err)
	}

	return &WriteResult{TxHash: txHash, GasLimit: gasLimit}, nil
}

// ErrTxReverted is reported by transactor implementations when a submitted
// transaction was mined but reverted. It is never retried.
var ErrTxReverted = errors.New("transaction reverted")

// NewRegisterToolsCall builds the step-1 write: batch-register all missing
// tools with enabled = true.
func NewRegisterToolsCall(tokenID string, toolIDs []string) *WriteCall {
	return &WriteCall{
		Method:  MethodRegisterTools,
		TokenID: tokenID,
		Args:    []interface{}{toolIDs, true},
	}
}

// NewAddDelegateesCall builds the step-2 write: batch-add missing delegatees.
func NewAddDelegateesCall(tokenID string, delegatees []string) *WriteCall {
	return &WriteCall{
		Method:  MethodAddDelegatees,
		TokenID: tokenID,
		Args:    []interface{}{delegatees},
	}
}

// NewPermitToolCall builds one step-3 write: the registry keys permissions
// per delegatee, so each delegatee/tool grant is an independent write.
func NewPermitToolCall(tokenID, toolID, delegatee string) *WriteCall {
	return &WriteCall{
		Method:  MethodPermitToolsForDelegatees,
		TokenID: tokenID,
		Args:    []interface{}{[]string{toolID}, []string{delegatee}},
	}
}

// NewSetToolPoliciesCall builds the step-4 write: attach the full policy set
// to the full tool/delegatee cross product.
func NewSetToolPoliciesCall(tokenID string, toolIDs, delegatees, policyIDs []string) *WriteCall {
	return &WriteCall{
		Method:  MethodSetToolPoliciesForDelegatees,
		TokenID: tokenID,
		Args:    []interface{}{toolIDs, delegatees, policyIDs, true},
	}
}

// NewSetParametersCall builds one step-5 write: rewrite the full parameter
// array for one delegatee on the primary tool.
func NewSetParametersCall(tokenID, toolID, delegatee string, names []string, values [][]byte) *WriteCall {
	return &WriteCall{
		Method:  MethodSetToolPolicyParametersForDelegatee,
		TokenID: tokenID,
		Args:    []interface{}{toolID, delegatee, names, values},
	}
}
