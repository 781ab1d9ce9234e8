/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package oidc4vc

import "fmt"

// validateStateTransition guards the forward-only session state machine.
// Every transition not listed here is rejected.
func validateStateTransition(oldState, newState SessionState) error {
	if oldState == SessionStateAuthRequested &&
		newState == SessionStateIDTokenRequested {
		return nil
	}

	if oldState == SessionStateIDTokenRequested &&
		newState == SessionStateAuthorized {
		return nil
	}

	if oldState == SessionStateAuthorized &&
		newState == SessionStateTokenIssued {
		return nil
	}

	if oldState == SessionStatePreAuthorized &&
		newState == SessionStateTokenIssued {
		return nil
	}

	if oldState == SessionStateTokenIssued &&
		newState == SessionStateCredentialRequested {
		return nil
	}

	if oldState == SessionStateCredentialRequested &&
		newState == SessionStateCredentialIssued {
		return nil
	}

	// deferred issuance retries the credential step until claims are ready
	if oldState == SessionStateCredentialRequested &&
		newState == SessionStateCredentialRequested {
		return nil
	}

	return fmt.Errorf("%w: from %s to %s", ErrInvalidStateTransition, oldState, newState)
}
