/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package consent

import (
	"fmt"
)

//nolint:gocyclo
func validateStateTransition(oldState, newState TransactionState) error {
	if newState == TransactionStateFailed && !oldState.Terminal() {
		return nil // reachable from any live state
	}

	if oldState == TransactionStateResolvingRequest &&
		newState == TransactionStateCheckingExistingGrant {
		return nil
	}

	if oldState == TransactionStateCheckingExistingGrant &&
		newState == TransactionStateAutoApproved {
		return nil // existing grant found
	}

	if oldState == TransactionStateCheckingExistingGrant &&
		newState == TransactionStateAwaitingUserDecision {
		return nil
	}

	if oldState == TransactionStateAwaitingUserDecision &&
		newState == TransactionStateApproving {
		return nil // single entry point for reconciliation
	}

	if oldState == TransactionStateApproving &&
		newState == TransactionStateCompleted {
		return nil
	}

	if oldState == TransactionStateApproving &&
		newState == TransactionStateAwaitingUserDecision {
		return nil // retryable approve failure
	}

	if oldState == TransactionStateAwaitingUserDecision &&
		newState == TransactionStateDenying {
		return nil
	}

	if oldState == TransactionStateDenying &&
		newState == TransactionStateDenied {
		return nil
	}

	return fmt.Errorf("unexpected transition from %v to %v", oldState, newState)
}
