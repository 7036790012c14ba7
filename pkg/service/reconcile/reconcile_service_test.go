/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentgrant/consent/pkg/chainregistry"
	"github.com/agentgrant/consent/pkg/consentsession"
	"github.com/agentgrant/consent/pkg/restapi/resterr"
)

const (
	testTokenID = "0xdeadbeef"
	delegateeA  = "0x1111111111111111111111111111111111111111"
	delegateeB  = "0x2222222222222222222222222222222222222222"
	toolOne     = "ipfs://tool-1"
	toolTwo     = "ipfs://tool-2"
	policyOne   = "ipfs://policy-1"
)

func TestService_Reconcile_FirstTime(t *testing.T) {
	executor := &executorStub{}
	desired := &DesiredGrant{
		Delegatees: []string{delegateeA},
		Tools:      []string{toolOne, toolTwo},
		Policies:   []string{policyOne},
		Parameters: []ParameterGroup{{Type: "maxAmount", Values: []string{"100"}}},
	}

	svc := NewService(&Config{
		GrantReader:   &readerStub{grant: grantMatching(desired)},
		WriteExecutor: executor,
	})

	receipt, err := svc.Reconcile(context.Background(), &Request{
		TokenID: testTokenID,
		Desired: desired,
		Current: emptyGrant(),
		Bundle:  validBundle(t),
	})
	require.NoError(t, err)

	// steps 1, 2, 4 batch into one write each; step 3 writes per
	// delegatee/tool pair; step 5 writes per delegatee
	require.Len(t, receipt.Steps, 5)
	require.Equal(t, 1, receipt.Steps[0].Writes)
	require.Equal(t, 1, receipt.Steps[1].Writes)
	require.Equal(t, 2, receipt.Steps[2].Writes)
	require.Equal(t, 1, receipt.Steps[3].Writes)
	require.Equal(t, 1, receipt.Steps[4].Writes)
	require.Equal(t, 6, receipt.TotalWrites())
	require.True(t, receipt.Verified)
	require.Empty(t, receipt.Divergence)

	require.Equal(t, []string{
		chainregistry.MethodRegisterTools,
		chainregistry.MethodAddDelegatees,
		chainregistry.MethodPermitToolsForDelegatees,
		chainregistry.MethodPermitToolsForDelegatees,
		chainregistry.MethodSetToolPoliciesForDelegatees,
		chainregistry.MethodSetToolPolicyParametersForDelegatee,
	}, executor.methods())
}

func TestService_Reconcile_AlreadyGranted(t *testing.T) {
	executor := &executorStub{}
	desired := &DesiredGrant{
		Delegatees: []string{delegateeA},
		Tools:      []string{toolOne},
		Policies:   []string{policyOne},
		Parameters: []ParameterGroup{{Type: "maxAmount", Values: []string{"100"}}},
	}

	svc := NewService(&Config{
		GrantReader:   &readerStub{grant: grantMatching(desired)},
		WriteExecutor: executor,
	})

	receipt, err := svc.Reconcile(context.Background(), &Request{
		TokenID: testTokenID,
		Desired: desired,
		Current: grantMatching(desired),
		Bundle:  validBundle(t),
	})
	require.NoError(t, err)

	require.Zero(t, receipt.TotalWrites())
	require.True(t, receipt.Verified)

	for _, step := range receipt.Steps {
		require.True(t, step.Skipped, "step %s should be skipped", step.Step)
	}
}

func TestService_Reconcile_PartialPriorState(t *testing.T) {
	executor := &executorStub{}
	desired := &DesiredGrant{
		Delegatees: []string{delegateeA},
		Tools:      []string{toolOne},
		Policies:   []string{policyOne},
		Parameters: []ParameterGroup{{Type: "maxAmount", Values: []string{"100"}}},
	}

	// a previous run completed steps 1 and 2 before being abandoned
	current := emptyGrant()
	current.RegisteredTools = []chainregistry.ToolState{{ID: toolOne, Enabled: true}}
	current.Delegatees = []string{delegateeA}

	svc := NewService(&Config{
		GrantReader:   &readerStub{grant: grantMatching(desired)},
		WriteExecutor: executor,
	})

	receipt, err := svc.Reconcile(context.Background(), &Request{
		TokenID: testTokenID,
		Desired: desired,
		Current: current,
		Bundle:  validBundle(t),
	})
	require.NoError(t, err)

	require.True(t, receipt.Steps[0].Skipped)
	require.True(t, receipt.Steps[1].Skipped)
	require.Equal(t, 1, receipt.Steps[2].Writes)
	require.Equal(t, 1, receipt.Steps[3].Writes)
	require.Equal(t, 1, receipt.Steps[4].Writes)
}

func TestService_Reconcile_CaseInsensitiveDelegatees(t *testing.T) {
	executor := &executorStub{}
	desired := &DesiredGrant{
		Delegatees: []string{"0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"},
		Tools:      []string{toolOne},
	}

	current := emptyGrant()
	current.RegisteredTools = []chainregistry.ToolState{{ID: toolOne, Enabled: true}}
	// registry reports the checksummed form
	current.Delegatees = []string{"0xAbCdEfAbCdEfAbCdEfAbCdEfAbCdEfAbCdEfAbCd"}
	current.PermittedTools["0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"] = []string{toolOne}

	svc := NewService(&Config{
		GrantReader:   &readerStub{grant: current},
		WriteExecutor: executor,
	})

	receipt, err := svc.Reconcile(context.Background(), &Request{
		TokenID: testTokenID,
		Desired: desired,
		Current: current,
		Bundle:  validBundle(t),
	})
	require.NoError(t, err)
	require.Zero(t, receipt.TotalWrites())
}

func TestService_Reconcile_ParameterMismatchRewritesArray(t *testing.T) {
	executor := &executorStub{}
	desired := &DesiredGrant{
		Delegatees: []string{delegateeA},
		Tools:      []string{toolOne},
		Parameters: []ParameterGroup{{Type: "maxAmount", Values: []string{"250"}}},
	}

	current := grantMatching(desired)
	current.Parameters[delegateeA] = []chainregistry.ParameterValue{
		{Name: "maxAmount1", Value: chainregistry.EncodeParameterValue("100")},
	}

	svc := NewService(&Config{
		GrantReader:   &readerStub{grant: grantMatching(desired)},
		WriteExecutor: executor,
	})

	receipt, err := svc.Reconcile(context.Background(), &Request{
		TokenID: testTokenID,
		Desired: desired,
		Current: current,
		Bundle:  validBundle(t),
	})
	require.NoError(t, err)

	require.Equal(t, 1, receipt.TotalWrites())
	require.Equal(t, StepSyncParameters, receipt.Steps[4].Step)
	require.Equal(t, 1, receipt.Steps[4].Writes)

	call := executor.calls[0]
	require.Equal(t, chainregistry.MethodSetToolPolicyParametersForDelegatee, call.Method)
	require.Equal(t, []interface{}{
		toolOne,
		delegateeA,
		[]string{"maxAmount1"},
		[][]byte{chainregistry.EncodeParameterValue("250")},
	}, call.Args)
}

func TestService_Reconcile_StepFailureAborts(t *testing.T) {
	executor := &executorStub{
		failOn: chainregistry.MethodAddDelegatees,
	}
	desired := &DesiredGrant{
		Delegatees: []string{delegateeA},
		Tools:      []string{toolOne},
		Policies:   []string{policyOne},
	}

	svc := NewService(&Config{
		GrantReader:   &readerStub{grant: emptyGrant()},
		WriteExecutor: executor,
	})

	_, err := svc.Reconcile(context.Background(), &Request{
		TokenID: testTokenID,
		Desired: desired,
		Current: emptyGrant(),
		Bundle:  validBundle(t),
	})
	require.Error(t, err)

	var restErr *resterr.Error

	require.ErrorAs(t, err, &restErr)
	require.Equal(t, resterr.CodeReconciliationStepFailed, restErr.Code)
	require.Equal(t, string(StepAddDelegatees), restErr.Operation)
	require.Contains(t, err.Error(), testTokenID)

	// only step 1 wrote; steps 3 to 5 never started
	require.Equal(t, []string{
		chainregistry.MethodRegisterTools,
	}, executor.methods())
}

func TestService_Reconcile_ExpiredBundleFailsClosed(t *testing.T) {
	executor := &executorStub{}
	desired := &DesiredGrant{
		Delegatees: []string{delegateeA},
		Tools:      []string{toolOne},
	}

	expired := consentsession.NewBundle("0x04aabb",
		[]consentsession.Ability{consentsession.AbilitySignWithKey},
		time.Now().Add(-time.Minute), &signerStub{})

	svc := NewService(&Config{
		GrantReader:   &readerStub{grant: emptyGrant()},
		WriteExecutor: executor,
	})

	_, err := svc.Reconcile(context.Background(), &Request{
		TokenID: testTokenID,
		Desired: desired,
		Current: emptyGrant(),
		Bundle:  expired,
	})
	require.Error(t, err)

	var restErr *resterr.Error

	require.ErrorAs(t, err, &restErr)
	require.Equal(t, resterr.CodeAuthenticationFailed, restErr.Code)
	require.Empty(t, executor.methods())
}

func TestService_Reconcile_VerificationDivergence(t *testing.T) {
	desired := &DesiredGrant{
		Delegatees: []string{delegateeA},
		Tools:      []string{toolOne},
	}

	// verification re-read still shows the tool unpermitted
	verifyGrant := grantMatching(desired)
	verifyGrant.PermittedTools[delegateeA] = nil

	svc := NewService(&Config{
		GrantReader:   &readerStub{grant: verifyGrant},
		WriteExecutor: &executorStub{},
	})

	receipt, err := svc.Reconcile(context.Background(), &Request{
		TokenID: testTokenID,
		Desired: desired,
		Current: emptyGrant(),
		Bundle:  validBundle(t),
	})
	require.NoError(t, err)

	require.False(t, receipt.Verified)
	require.NotEmpty(t, receipt.Divergence)
}

func validBundle(t *testing.T) *consentsession.Bundle {
	t.Helper()

	return consentsession.NewBundle("0x04aabb",
		[]consentsession.Ability{consentsession.AbilitySignWithKey, consentsession.AbilityExecuteAction},
		time.Now().Add(10*time.Minute), &signerStub{})
}

func emptyGrant() *chainregistry.CurrentGrant {
	return &chainregistry.CurrentGrant{
		PermittedTools: make(map[string][]string),
		Parameters:     make(map[string][]chainregistry.ParameterValue),
	}
}

// grantMatching builds the on-chain state a fully applied desired grant
// would produce.
func grantMatching(desired *DesiredGrant) *chainregistry.CurrentGrant {
	grant := emptyGrant()
	grant.Delegatees = desired.Delegatees

	for _, toolID := range desired.Tools {
		grant.RegisteredTools = append(grant.RegisteredTools,
			chainregistry.ToolState{ID: toolID, Enabled: true})
		grant.ToolsWithPolicies = append(grant.ToolsWithPolicies, chainregistry.ToolWithPolicy{
			ToolID:     toolID,
			Delegatees: desired.Delegatees,
			PolicyIDs:  desired.Policies,
		})
	}

	names, values := desiredParameters(desired)

	for _, delegatee := range desired.Delegatees {
		grant.PermittedTools[delegatee] = desired.Tools

		for i, name := range names {
			grant.Parameters[delegatee] = append(grant.Parameters[delegatee],
				chainregistry.ParameterValue{
					Name:  name,
					Value: chainregistry.EncodeParameterValue(values[i]),
				})
		}
	}

	return grant
}

type signerStub struct{}

func (s *signerStub) Sign(_ context.Context, _ []byte) ([]byte, error) {
	return make([]byte, 64), nil
}

func (s *signerStub) PublicKey() []byte {
	return []byte{0x04, 0xaa, 0xbb}
}

type readerStub struct {
	grant *chainregistry.CurrentGrant
	err   error
}

func (r *readerStub) ReadCurrentGrant(
	_ context.Context, _ string, _ *chainregistry.Query,
) (*chainregistry.CurrentGrant, error) {
	if r.err != nil {
		return nil, r.err
	}

	return r.grant, nil
}

type executorStub struct {
	calls  []*chainregistry.WriteCall
	failOn string
}

func (e *executorStub) Execute(
	_ context.Context,
	call *chainregistry.WriteCall,
	_ consentsession.Signer,
) (*chainregistry.WriteResult, error) {
	if call.Method == e.failOn {
		return nil, errors.New("execution reverted")
	}

	e.calls = append(e.calls, call)

	return &chainregistry.WriteResult{
		TxHash:   fmt.Sprintf("0xhash%d", len(e.calls)),
		GasLimit: 120000,
	}, nil
}

func (e *executorStub) methods() []string {
	methods := make([]string, len(e.calls))
	for i, call := range e.calls {
		methods[i] = call.Method
	}

	return methods
}
