/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package oidc4vc

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[SessionID]*SessionData
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions: make(map[SessionID]*SessionData),
	}
}

func (s *fakeSessionStore) Create(
	_ context.Context,
	data *SessionData,
	_ ...func(insertOptions *InsertOptions),
) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := SessionID(uuid.NewString())

	stored := *data
	s.sessions[id] = &stored

	return &Session{ID: id, SessionData: stored}, nil
}

func (s *fakeSessionStore) Get(_ context.Context, id SessionID) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.sessions[id]
	if !ok {
		return nil, ErrDataNotFound
	}

	return &Session{ID: id, SessionData: *data}, nil
}

func (s *fakeSessionStore) FindByIssuerState(ctx context.Context, issuerState string) (*Session, error) {
	return s.find(func(d *SessionData) bool { return d.IssuerState == issuerState })
}

func (s *fakeSessionStore) FindByAuthCode(ctx context.Context, code string) (*Session, error) {
	return s.find(func(d *SessionData) bool { return d.AuthCode == code })
}

func (s *fakeSessionStore) FindByPreAuthCode(ctx context.Context, code string) (*Session, error) {
	return s.find(func(d *SessionData) bool { return d.PreAuthCode == code })
}

func (s *fakeSessionStore) FindByAcceptanceToken(ctx context.Context, token string) (*Session, error) {
	return s.find(func(d *SessionData) bool { return d.AcceptanceToken == token })
}

func (s *fakeSessionStore) Update(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; !ok {
		return ErrDataNotFound
	}

	stored := session.SessionData
	s.sessions[session.ID] = &stored

	return nil
}

func (s *fakeSessionStore) ConsumeAuthCode(_ context.Context, code string) (*Session, error) {
	return s.consume(
		func(d *SessionData) bool { return d.AuthCode == code },
		func(d *SessionData) *bool { return &d.AuthCodeUsed },
	)
}

func (s *fakeSessionStore) ConsumePreAuthCode(_ context.Context, code string) (*Session, error) {
	return s.consume(
		func(d *SessionData) bool { return d.PreAuthCode == code },
		func(d *SessionData) *bool { return &d.PreAuthCodeUsed },
	)
}

func (s *fakeSessionStore) ConsumeAcceptanceToken(_ context.Context, token string) (*Session, error) {
	return s.consume(
		func(d *SessionData) bool { return d.AcceptanceToken == token },
		func(d *SessionData) *bool { return &d.AcceptanceTokenUsed },
	)
}

func (s *fakeSessionStore) find(match func(*SessionData) bool) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, data := range s.sessions {
		if match(data) {
			return &Session{ID: id, SessionData: *data}, nil
		}
	}

	return nil, ErrDataNotFound
}

func (s *fakeSessionStore) consume(match func(*SessionData) bool, used func(*SessionData) *bool) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, data := range s.sessions {
		if !match(data) {
			continue
		}

		flag := used(data)
		if *flag {
			return nil, ErrTokenAlreadyUsed
		}

		*flag = true

		return &Session{ID: id, SessionData: *data}, nil
	}

	return nil, ErrDataNotFound
}

type fakeNonceStore struct {
	mu     sync.Mutex
	now    func() time.Time
	nonces map[string]*Nonce
}

func newFakeNonceStore(now func() time.Time) *fakeNonceStore {
	return &fakeNonceStore{
		now:    now,
		nonces: make(map[string]*Nonce),
	}
}

func (s *fakeNonceStore) SetIfNotExist(_ context.Context, nonce string, sessionID SessionID, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nonces[nonce]; ok {
		return false, nil
	}

	s.nonces[nonce] = &Nonce{
		SessionID: sessionID,
		ExpiresAt: s.now().Add(ttl),
	}

	return true, nil
}

func (s *fakeNonceStore) GetAndDelete(_ context.Context, nonce string) (*Nonce, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.nonces[nonce]
	if !ok {
		return nil, false, nil
	}

	delete(s.nonces, nonce)

	return record, true, nil
}

func (s *fakeNonceStore) drop(nonce string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.nonces, nonce)
}
