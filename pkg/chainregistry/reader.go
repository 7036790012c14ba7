/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package chainregistry

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/agentgrant/consent/internal/logfields"
	"github.com/agentgrant/consent/pkg/restapi/resterr"
)

var logger = log.New("chain-registry")

// Reader performs read-only queries against the on-chain registry.
type Reader struct {
	caller contractCaller
}

// NewReader returns a new Reader instance.
func NewReader(caller contractCaller) *Reader {
	return &Reader{caller: caller}
}

// IsAppPermitted reports whether the application already holds a grant for
// the key-pair.
func (r *Reader) IsAppPermitted(ctx context.Context, tokenID, appID string) (bool, error) {
	appIDs, err := r.caller.GetAllPermittedAppIDsForPKP(ctx, tokenID)
	if err != nil {
		return false, readFailed(fmt.Errorf("get permitted app ids: %w", err))
	}

	return lo.Contains(appIDs, appID), nil
}

// ReadCurrentGrant reads the current grant state for one key-pair, scoped by
// the query. The four read groups are dispatched concurrently and awaited
// jointly; the result is a best-effort snapshot.
func (r *Reader) ReadCurrentGrant(ctx context.Context, tokenID string, query *Query) (*CurrentGrant, error) {
	grant := &CurrentGrant{
		PermittedTools: make(map[string][]string),
		Parameters:     make(map[string][]ParameterValue),
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	addErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()

		errs = append(errs, err)
	}

	wg.Add(3)

	go func() {
		defer wg.Done()

		delegatees, err := r.caller.GetDelegatees(ctx, tokenID)
		if err != nil {
			addErr(fmt.Errorf("get delegatees: %w", err))

			return
		}

		grant.Delegatees = delegatees
	}()

	go func() {
		defer wg.Done()

		tools, err := r.caller.GetAllRegisteredTools(ctx, tokenID)
		if err != nil {
			addErr(fmt.Errorf("get registered tools: %w", err))

			return
		}

		grant.RegisteredTools = tools
	}()

	go func() {
		defer wg.Done()

		toolsWithPolicies, err := r.caller.GetToolsWithPolicy(ctx, tokenID)
		if err != nil {
			addErr(fmt.Errorf("get tools with policy: %w", err))

			return
		}

		grant.ToolsWithPolicies = toolsWithPolicies
	}()

	for _, delegatee := range query.Delegatees {
		delegatee := delegatee

		wg.Add(1)

		go func() {
			defer wg.Done()

			permitted, err := r.caller.GetPermittedToolsForDelegatee(ctx, tokenID, delegatee)
			if err != nil {
				addErr(fmt.Errorf("get permitted tools for %s: %w", delegatee, err))

				return
			}

			mu.Lock()
			grant.PermittedTools[delegatee] = permitted
			mu.Unlock()
		}()

		if len(query.Tools) == 0 || len(query.ParameterNames) == 0 {
			continue
		}

		wg.Add(1)

		go func() {
			defer wg.Done()

			// parameters are keyed to the primary tool
			params, err := r.caller.GetToolPolicyParameters(
				ctx, tokenID, query.Tools[0], delegatee, query.ParameterNames)
			if err != nil {
				addErr(fmt.Errorf("get tool policy parameters for %s: %w", delegatee, err))

				return
			}

			mu.Lock()
			grant.Parameters[delegatee] = params
			mu.Unlock()
		}()
	}

	wg.Wait()

	if len(errs) > 0 {
		return nil, readFailed(fmt.Errorf("read current grant: %w", joinErrors(errs)))
	}

	logger.Debugc(ctx, "read current grant state", logfields.WithPKPTokenID(tokenID))

	return grant, nil
}

func readFailed(err error) error {
	return resterr.NewReadFailed(err).WithComponent(resterr.ChainRegistryComponent)
}

func joinErrors(errs []error) error {
	err := errs[0]

	for _, e := range errs[1:] {
		err = fmt.Errorf("%w; %v", err, e)
	}

	return err
}
