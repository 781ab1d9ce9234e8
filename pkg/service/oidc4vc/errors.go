/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package oidc4vc

import "errors"

var (
	// ErrDataNotFound is returned by stores when no row matches.
	ErrDataNotFound = errors.New("data not found")
	// ErrBindingMismatch is returned when a state, nonce, PIN or PKCE check
	// fails; the session step is rejected, not retried.
	ErrBindingMismatch = errors.New("binding mismatch")
	// ErrTokenAlreadyUsed is returned when a single-use token (authorization
	// code, pre-authorized code, cNonce, acceptance token) is replayed.
	ErrTokenAlreadyUsed = errors.New("token already used")
	// ErrExpired is returned when the governing timestamp of a session or
	// token has passed.
	ErrExpired = errors.New("expired")
	// ErrUnsupportedCodeChallengeMethod is returned for PKCE methods other
	// than S256; plain is deliberately not accepted.
	ErrUnsupportedCodeChallengeMethod = errors.New("unsupported code challenge method")
	// ErrInvalidStateTransition is returned when an operation arrives at the
	// wrong protocol step for the session.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrIssuancePending is returned by the deferred credential operation
	// while the credential is still not ready.
	ErrIssuancePending = errors.New("issuance pending")
	// ErrSessionTerminal is returned when an operation addresses a session
	// that already completed, expired or was rejected.
	ErrSessionTerminal = errors.New("session in terminal state")
)
