/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package credentialoffer

import "errors"

var (
	// ErrOfferNotFound is returned when no offer matches the identifier.
	ErrOfferNotFound = errors.New("offer not found")
	// ErrOfferAlreadyUsed is returned when an offer's claim data is requested
	// a second time. The claim hand-off is single use.
	ErrOfferAlreadyUsed = errors.New("offer already used")
	// ErrOfferExpired is returned when the offer's expiry has passed.
	ErrOfferExpired = errors.New("offer expired")
)
