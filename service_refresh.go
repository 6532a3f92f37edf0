package authclient

import (
	"context"
	"time"
)

// refreshFlight is one in flight refresh. done is closed once outcome is set.
type refreshFlight struct {
	done    chan struct{}
	outcome bool
}

// IsAuthenticatedOrRefresh reports whether the caller is authenticated,
// refreshing an expired token first. Concurrent callers share a single
// refresh call and all observe its outcome.
func (s *Service) IsAuthenticatedOrRefresh(ctx context.Context) bool {
	if !s.store.Available() {
		return false
	}

	s.mu.Lock()
	if f := s.flight; f != nil {
		s.mu.Unlock()
		return s.awaitFlight(ctx, f)
	}
	f := &refreshFlight{done: make(chan struct{})}
	s.flight = f
	s.mu.Unlock()

	outcome := false
	defer func() {
		s.mu.Lock()
		if s.flight == f {
			s.flight = nil
		}
		s.mu.Unlock()

		f.outcome = outcome
		close(f.done)
	}()

	outcome = s.refreshIfExpired(ctx)
	return outcome
}

func (s *Service) awaitFlight(ctx context.Context, f *refreshFlight) bool {
	wait := s.cfg.RefreshFlow.WaitTimeout
	if wait <= 0 {
		wait = DefaultRefreshTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.outcome
	case <-timer.C:
		s.logger.Warn("timed out waiting for token refresh", "timeout", wait)
		s.mu.Lock()
		if s.flight == f {
			s.flight = nil
		}
		s.mu.Unlock()
		return false
	case <-ctx.Done():
		return false
	}
}

func (s *Service) refreshIfExpired(ctx context.Context) bool {
	token := s.Token(ctx)
	if token.IsEmpty() || token.IsValid() {
		return token.IsValid()
	}

	result := s.RefreshToken(ctx, nil)
	switch {
	case result.Success:
		return s.IsAuthenticated(ctx)
	case s.isDefinitiveRejection(result):
		s.logger.Info("token refresh rejected", "status", result.StatusCode())
		return false
	default:
		// 404, 5xx and transport failures are not proof of an invalid
		// session, the expired token stays and the caller may retry later
		s.logger.Warn("token refresh failed, keeping session",
			"status", result.StatusCode(),
			"error", result.Err,
		)
		return true
	}
}

func (s *Service) isDefinitiveRejection(result AuthResult) bool {
	if result.Response == nil {
		return false
	}
	if result.Response.OK() {
		// the backend answered but the token was unusable
		return true
	}
	return s.cfg.isRejection(result.Response.StatusCode)
}

// RefreshToken exchanges the current token for a new one. Preconditions run
// in order before the request is sent and the first error aborts the refresh.
func (s *Service) RefreshToken(ctx context.Context, data any, preconditions ...Precondition) AuthResult {
	e := s.cfg.Refresh

	for _, pre := range preconditions {
		if pre == nil {
			continue
		}
		if err := pre(ctx); err != nil {
			result := failureResult(nil, err, e.Redirect.Failure, s.errorsFor(endpointRefresh, e, nil))
			s.record(ctx, ActivityEventRefreshFailure, result)
			return result
		}
	}

	current := s.Token(ctx)
	result := s.tokenFlow(ctx, endpointRefresh, e, data, current.Value())
	if result.Success {
		s.logger.Debug("token refreshed", "token", result.Token.String())
		s.record(ctx, ActivityEventRefreshSuccess, result)
	} else {
		s.record(ctx, ActivityEventRefreshFailure, result)
	}
	return result
}
