package authclient

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

const tokenChangeBuffer = 1

// storedToken is the persisted layout of a token
type storedToken struct {
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
	Value     string `json:"value"`
}

// TokenStore persists the current token and publishes changes. It is the only
// writer of the persisted token.
type TokenStore struct {
	storage  Storage
	key      string
	decoder  PayloadDecoder
	clock    Clock
	logger   Logger
	provider LoggerProvider

	mu       sync.RWMutex
	current  *Token
	gen      uint64
	subs     map[int]chan *Token
	watchers map[int]chan tokenUpdate
	nextSub  int
}

// tokenUpdate is a state change seen by in-package watchers. gen grows with
// every change to the current token, clears included.
type tokenUpdate struct {
	token *Token
	gen   uint64
}

// TokenStoreOption configures a TokenStore
type TokenStoreOption func(*TokenStore)

// WithStoreKey overrides the storage key, DefaultStorageKey by default
func WithStoreKey(key string) TokenStoreOption {
	return func(s *TokenStore) {
		if key != "" {
			s.key = key
		}
	}
}

// WithStoreDecoder sets the decoder used when a persisted name is unknown
func WithStoreDecoder(decoder PayloadDecoder) TokenStoreOption {
	return func(s *TokenStore) {
		if decoder != nil {
			s.decoder = decoder
		}
	}
}

// WithStoreClock sets the clock handed to tokens read back from storage
func WithStoreClock(clock Clock) TokenStoreOption {
	return func(s *TokenStore) {
		s.clock = clock
	}
}

// WithStoreLogger sets the store logger
func WithStoreLogger(logger Logger) TokenStoreOption {
	return func(s *TokenStore) {
		s.logger = logger
	}
}

// WithStoreLoggerProvider resolves the store logger from a provider
func WithStoreLoggerProvider(provider LoggerProvider) TokenStoreOption {
	return func(s *TokenStore) {
		s.provider = provider
	}
}

// NewTokenStore creates a store backed by storage. A nil storage models an
// execution context without durable storage: reads yield an empty token and
// writes only update the in memory state.
func NewTokenStore(storage Storage, opts ...TokenStoreOption) *TokenStore {
	s := &TokenStore{
		storage: storage,
		key:     DefaultStorageKey,
		decoder: JWTDecoder{},
		current:  EmptyToken(),
		subs:     map[int]chan *Token{},
		watchers: map[int]chan tokenUpdate{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = resolveLogger("authclient.store", s.provider, s.logger)
	return s
}

// Available reports whether durable storage is configured
func (s *TokenStore) Available() bool {
	return s.storage != nil
}

// Current returns the in memory snapshot without touching storage
func (s *TokenStore) Current() *Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Get reads the persisted token. Missing, unreadable or undecodable entries
// yield an empty token: a broken blob logs the user out, it never fails the
// caller. The error is only set when ctx is done.
func (s *TokenStore) Get(ctx context.Context) (*Token, error) {
	if err := ctx.Err(); err != nil {
		return EmptyToken(), err
	}

	if s.storage == nil {
		return EmptyToken(), nil
	}

	s.mu.RLock()
	gen := s.gen
	s.mu.RUnlock()

	raw, err := s.storage.Get(ctx, s.key)
	if err != nil {
		if !IsNotFoundError(err) {
			s.logger.Warn("token storage read failed", "key", s.key, "error", err)
		}
		return s.resetSince(gen), nil
	}

	token, err := s.unwrap(raw)
	if err != nil {
		s.logger.Warn("discarding unreadable stored token", "key", s.key, "error", err)
		return s.resetSince(gen), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// a Set or Clear that landed during the read wins over what was read
	if s.gen != gen {
		return s.current, nil
	}
	s.current = token
	return token, nil
}

// Set persists the token and publishes it to TokenChange subscribers
func (s *TokenStore) Set(ctx context.Context, token *Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if token == nil {
		token = EmptyToken()
	}

	if s.storage != nil {
		blob, err := json.Marshal(storedToken{
			Name:      token.Name(),
			CreatedAt: token.CreatedAt().UnixMilli(),
			Value:     token.Value(),
		})
		if err != nil {
			return err
		}
		if err := s.storage.Set(ctx, s.key, string(blob)); err != nil {
			s.logger.Error("token storage write failed", "key", s.key, "error", err)
			return err
		}
	}

	s.mu.Lock()
	s.gen++
	s.current = token
	s.publishLocked(token)
	s.mu.Unlock()

	s.logger.Debug("token stored", "token", token.String())
	return nil
}

// Clear removes the persisted entry and resets the current token. Nothing is
// published, TokenChange only carries tokens. The in memory token is reset
// even when the delete fails.
func (s *TokenStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var err error
	if s.storage != nil {
		// delete before reset so a concurrent Get cannot rehydrate the old entry
		if err = s.storage.Delete(ctx, s.key); err != nil && !IsNotFoundError(err) {
			s.logger.Error("token storage delete failed", "key", s.key, "error", err)
		} else {
			err = nil
		}
	}

	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
	return err
}

// TokenChange subscribes to future tokens. There is no replay. The returned
// func unsubscribes and closes the channel. A subscriber that falls behind
// only sees the most recent token.
func (s *TokenStore) TokenChange() (<-chan *Token, func()) {
	ch := make(chan *Token, tokenChangeBuffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// watch subscribes to every state change, clears included, tagged with the
// store generation.
func (s *TokenStore) watch() (<-chan tokenUpdate, func()) {
	ch := make(chan tokenUpdate, tokenChangeBuffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.watchers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// snapshot returns the current token with its generation
func (s *TokenStore) snapshot() tokenUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tokenUpdate{token: s.current, gen: s.gen}
}

// publishLocked runs under s.mu so deliveries follow the order of changes
func (s *TokenStore) publishLocked(token *Token) {
	for _, ch := range s.subs {
		offerLatest(ch, token)
	}
	s.notifyLocked()
}

func (s *TokenStore) notifyLocked() {
	update := tokenUpdate{token: s.current, gen: s.gen}
	for _, ch := range s.watchers {
		offerLatest(ch, update)
	}
}

// offerLatest never blocks. A full channel drops its stale value for v.
func offerLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

func (s *TokenStore) resetLocked() *Token {
	if s.current.IsEmpty() {
		return s.current
	}
	s.gen++
	s.current = EmptyToken()
	s.notifyLocked()
	return s.current
}

// resetSince clears the current token unless it changed after gen
func (s *TokenStore) resetSince(gen uint64) *Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return s.current
	}
	return s.resetLocked()
}

func (s *TokenStore) unwrap(raw string) (*Token, error) {
	var stored storedToken
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, malformedToken(err, raw)
	}

	opts := []TokenOption{
		WithDecoder(DecoderFor(stored.Name, s.decoder)),
		WithClock(s.clock),
	}
	if stored.CreatedAt > 0 {
		opts = append(opts, WithCreatedAt(time.UnixMilli(stored.CreatedAt)))
	}

	return NewToken(stored.Value, opts...)
}
