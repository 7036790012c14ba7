/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package reconcile drives the recorded on-chain grant toward the desired
// grant through an ordered sequence of idempotent, diff-before-write steps.
// Re-running a partially completed run performs no redundant writes.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/agentgrant/consent/internal/logfields"
	"github.com/agentgrant/consent/pkg/chainregistry"
	"github.com/agentgrant/consent/pkg/restapi/resterr"
)

var logger = log.New("reconcile-service")

// Config holds configuration options and dependencies for Service.
type Config struct {
	GrantReader   grantReader
	WriteExecutor writeExecutor
}

// Service is the reconciliation engine.
type Service struct {
	reader   grantReader
	executor writeExecutor
}

// NewService returns a new Service instance.
func NewService(config *Config) *Service {
	return &Service{
		reader:   config.GrantReader,
		executor: config.WriteExecutor,
	}
}

// Reconcile runs the five ordered steps against the registry. Each step
// diffs desired against current and only writes the difference; each write
// is confirmed before the next begins. Any write failure aborts the
// remaining steps with the step identity in the error; partial completion
// is a safe state because a retry from the top re-diffs.
func (s *Service) Reconcile(ctx context.Context, req *Request) (*Receipt, error) {
	receipt := &Receipt{}

	steps := []struct {
		step Step
		run  func(ctx context.Context, req *Request) (*StepResult, error)
	}{
		{StepRegisterTools, s.registerMissingTools},
		{StepAddDelegatees, s.addMissingDelegatees},
		{StepPermitTools, s.permitMissingTools},
		{StepAttachPolicies, s.attachMissingPolicies},
		{StepSyncParameters, s.syncParameters},
	}

	for _, st := range steps {
		result, err := st.run(ctx, req)
		if err != nil {
			return nil, stepFailed(st.step, req.TokenID, err)
		}

		receipt.Steps = append(receipt.Steps, *result)

		logger.Debugc(ctx, "reconciliation step done",
			logfields.WithReconcileStep(string(st.step)),
			logfields.WithWrites(result.Writes),
			logfields.WithPKPTokenID(req.TokenID))
	}

	s.verify(ctx, req, receipt)

	return receipt, nil
}

// registerMissingTools batch-registers every desired tool that is not
// present and enabled, in a single write.
func (s *Service) registerMissingTools(ctx context.Context, req *Request) (*StepResult, error) {
	enabled := make(map[string]bool, len(req.Current.RegisteredTools))
	for _, tool := range req.Current.RegisteredTools {
		enabled[tool.ID] = tool.Enabled
	}

	missing := lo.Filter(req.Desired.Tools, func(toolID string, _ int) bool {
		return !enabled[toolID]
	})

	if len(missing) == 0 {
		return &StepResult{Step: StepRegisterTools, Skipped: true}, nil
	}

	return s.executeStep(ctx, req, StepRegisterTools,
		chainregistry.NewRegisterToolsCall(req.TokenID, missing))
}

// addMissingDelegatees batch-adds every desired delegatee address not
// already admitted, in a single write. Address comparison is
// case-insensitive since the registry returns checksummed addresses.
func (s *Service) addMissingDelegatees(ctx context.Context, req *Request) (*StepResult, error) {
	missing := lo.Filter(req.Desired.Delegatees, func(delegatee string, _ int) bool {
		return !containsAddress(req.Current.Delegatees, delegatee)
	})

	if len(missing) == 0 {
		return &StepResult{Step: StepAddDelegatees, Skipped: true}, nil
	}

	return s.executeStep(ctx, req, StepAddDelegatees,
		chainregistry.NewAddDelegateesCall(req.TokenID, missing))
}

// permitMissingTools issues one write per missing (delegatee, tool) pair.
// The registry keys permissions per delegatee, so these writes are never
// batched across delegatees.
func (s *Service) permitMissingTools(ctx context.Context, req *Request) (*StepResult, error) {
	result := &StepResult{Step: StepPermitTools}

	for _, delegatee := range req.Desired.Delegatees {
		permitted := req.Current.PermittedTools[delegatee]

		for _, toolID := range req.Desired.Tools {
			if lo.Contains(permitted, toolID) {
				continue
			}

			written, err := s.executeStep(ctx, req, StepPermitTools,
				chainregistry.NewPermitToolCall(req.TokenID, toolID, delegatee))
			if err != nil {
				return nil, fmt.Errorf("delegatee %s tool %s: %w", delegatee, toolID, err)
			}

			result.Writes += written.Writes
			result.TxHashes = append(result.TxHashes, written.TxHashes...)
		}
	}

	result.Skipped = result.Writes == 0

	return result, nil
}

// attachMissingPolicies attaches the full desired policy set to the full
// tool/delegatee cross product in a single batched write, when any desired
// delegatee lacks any desired policy on any desired tool.
func (s *Service) attachMissingPolicies(ctx context.Context, req *Request) (*StepResult, error) {
	if len(req.Desired.Policies) == 0 || !s.policiesMissing(req) {
		return &StepResult{Step: StepAttachPolicies, Skipped: true}, nil
	}

	return s.executeStep(ctx, req, StepAttachPolicies,
		chainregistry.NewSetToolPoliciesCall(
			req.TokenID, req.Desired.Tools, req.Desired.Delegatees, req.Desired.Policies))
}

func (s *Service) policiesMissing(req *Request) bool {
	attached := func(toolID, delegatee, policyID string) bool {
		for _, twp := range req.Current.ToolsWithPolicies {
			if twp.ToolID != toolID {
				continue
			}

			if containsAddress(twp.Delegatees, delegatee) && lo.Contains(twp.PolicyIDs, policyID) {
				return true
			}
		}

		return false
	}

	for _, toolID := range req.Desired.Tools {
		for _, delegatee := range req.Desired.Delegatees {
			for _, policyID := range req.Desired.Policies {
				if !attached(toolID, delegatee, policyID) {
					return true
				}
			}
		}
	}

	return false
}

// syncParameters compares stored parameter values value-by-value for each
// delegatee and rewrites the full parameter array for any delegatee with a
// mismatch. Parameter values live on the primary tool.
func (s *Service) syncParameters(ctx context.Context, req *Request) (*StepResult, error) {
	names, values := desiredParameters(req.Desired)
	if len(names) == 0 || len(req.Desired.Tools) == 0 {
		return &StepResult{Step: StepSyncParameters, Skipped: true}, nil
	}

	result := &StepResult{Step: StepSyncParameters}

	encoded := make([][]byte, len(values))
	for i, value := range values {
		encoded[i] = chainregistry.EncodeParameterValue(value)
	}

	for _, delegatee := range req.Desired.Delegatees {
		match, err := parametersMatch(req.Current.Parameters[delegatee], names, values)
		if err != nil {
			return nil, fmt.Errorf("delegatee %s: %w", delegatee, err)
		}

		if match {
			continue
		}

		written, err := s.executeStep(ctx, req, StepSyncParameters,
			chainregistry.NewSetParametersCall(
				req.TokenID, req.Desired.Tools[0], delegatee, names, encoded))
		if err != nil {
			return nil, fmt.Errorf("delegatee %s: %w", delegatee, err)
		}

		result.Writes += written.Writes
		result.TxHashes = append(result.TxHashes, written.TxHashes...)
	}

	result.Skipped = result.Writes == 0

	return result, nil
}

// executeStep performs one confirmed write. The bundle's expiry is checked
// immediately before every write so a run that outlives its session window
// fails closed instead of proceeding with stale capability.
func (s *Service) executeStep(
	ctx context.Context,
	req *Request,
	step Step,
	call *chainregistry.WriteCall,
) (*StepResult, error) {
	signer, err := req.Bundle.Signer(time.Now())
	if err != nil {
		return nil, err
	}

	written, err := s.executor.Execute(ctx, call, signer)
	if err != nil {
		return nil, err
	}

	return &StepResult{
		Step:     step,
		Writes:   1,
		TxHashes: []string{written.TxHash},
	}, nil
}

// verify re-reads the registry after all steps and records any divergence
// from the desired grant. Verification failure does not fail the run; the
// receipt carries the explanation.
func (s *Service) verify(ctx context.Context, req *Request, receipt *Receipt) {
	names, values := desiredParameters(req.Desired)

	current, err := s.reader.ReadCurrentGrant(ctx, req.TokenID, &chainregistry.Query{
		Delegatees:     req.Desired.Delegatees,
		Tools:          req.Desired.Tools,
		ParameterNames: names,
	})
	if err != nil {
		receipt.Divergence = append(receipt.Divergence, fmt.Sprintf("verification read failed: %v", err))

		return
	}

	enabled := make(map[string]bool, len(current.RegisteredTools))
	for _, tool := range current.RegisteredTools {
		enabled[tool.ID] = tool.Enabled
	}

	for _, toolID := range req.Desired.Tools {
		if !enabled[toolID] {
			receipt.Divergence = append(receipt.Divergence,
				fmt.Sprintf("tool %s not registered and enabled", toolID))
		}
	}

	for _, delegatee := range req.Desired.Delegatees {
		if !containsAddress(current.Delegatees, delegatee) {
			receipt.Divergence = append(receipt.Divergence,
				fmt.Sprintf("delegatee %s not admitted", delegatee))
		}

		for _, toolID := range req.Desired.Tools {
			if !lo.Contains(current.PermittedTools[delegatee], toolID) {
				receipt.Divergence = append(receipt.Divergence,
					fmt.Sprintf("tool %s not permitted for delegatee %s", toolID, delegatee))
			}
		}

		if len(names) == 0 {
			continue
		}

		match, err := parametersMatch(current.Parameters[delegatee], names, values)
		if err != nil {
			receipt.Divergence = append(receipt.Divergence,
				fmt.Sprintf("parameters for delegatee %s undecodable: %v", delegatee, err))
		} else if !match {
			receipt.Divergence = append(receipt.Divergence,
				fmt.Sprintf("parameters for delegatee %s do not match", delegatee))
		}
	}

	receipt.Verified = len(receipt.Divergence) == 0

	if !receipt.Verified {
		logger.Warnc(ctx, "reconciliation verification found divergence",
			logfields.WithPKPTokenID(req.TokenID))
	}
}

// desiredParameters flattens the declared parameter groups into parallel
// name/value slices using the registry's positional naming.
func desiredParameters(desired *DesiredGrant) ([]string, []string) {
	var names, values []string

	for _, group := range desired.Parameters {
		names = append(names, chainregistry.ParameterNames(group.Type, len(group.Values))...)
		values = append(values, group.Values...)
	}

	return names, values
}

// parametersMatch decodes the stored values and compares them value-by-value
// against the desired ones. A missing or empty stored value only matches an
// empty desired value.
func parametersMatch(stored []chainregistry.ParameterValue, names, values []string) (bool, error) {
	storedByName := make(map[string][]byte, len(stored))
	for _, pv := range stored {
		storedByName[pv.Name] = pv.Value
	}

	for i, name := range names {
		decoded, err := chainregistry.DecodeParameterValue(storedByName[name])
		if err != nil {
			return false, fmt.Errorf("decode parameter %s: %w", name, err)
		}

		if decoded != values[i] {
			return false, nil
		}
	}

	return true, nil
}

func containsAddress(addresses []string, address string) bool {
	return lo.ContainsBy(addresses, func(a string) bool {
		return strings.EqualFold(a, address)
	})
}

func stepFailed(step Step, tokenID string, err error) error {
	var restErr *resterr.Error

	// expired session material surfaces as AuthenticationFailed, not as a
	// step failure
	if errors.As(err, &restErr) && restErr.Code == resterr.CodeAuthenticationFailed {
		return err
	}

	return resterr.NewReconciliationStepFailed(
		fmt.Errorf("step %s for token %s: %w", step, tokenID, err)).
		WithComponent(resterr.ReconcileSvcComponent).
		WithOperation(string(step))
}
