package authclient

import (
	"context"
	"net/http"
	"net/url"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-errors"
)

// Authenticate posts credentials to the login endpoint and persists the
// returned token.
func (s *Service) Authenticate(ctx context.Context, credentials any) AuthResult {
	result := s.tokenFlow(ctx, endpointLogin, s.cfg.Login, credentials, "")
	if result.Success {
		s.logger.Info("login succeeded", "token", result.Token.String())
		s.record(ctx, ActivityEventLoginSuccess, result)
	} else {
		s.logger.Info("login failed", "status", result.StatusCode(), "error", result.Err)
		s.record(ctx, ActivityEventLoginFailure, result)
	}
	return result
}

// Register creates an account and persists the returned token
func (s *Service) Register(ctx context.Context, data any) AuthResult {
	result := s.tokenFlow(ctx, endpointRegister, s.cfg.Register, data, "")
	if result.Success {
		s.record(ctx, ActivityEventRegisterSuccess, result)
	} else {
		s.record(ctx, ActivityEventRegisterFailure, result)
	}
	return result
}

// Logout calls the logout endpoint and clears the local token. A 404 means
// the backend has no session and counts as success. With
// KeepTokenOnNotFound set the local token survives a 404.
func (s *Service) Logout(ctx context.Context) AuthResult {
	e := s.cfg.Logout
	current := s.Token(ctx)

	resp, err := s.send(ctx, e.Endpoint, nil, current.Value())
	notFound := resp != nil && resp.StatusCode == http.StatusNotFound

	if !notFound || !e.KeepTokenOnNotFound {
		if clearErr := s.clearToken(ctx); clearErr != nil {
			s.logger.Error("failed to clear token on logout", "error", clearErr)
			if err == nil {
				err = clearErr
			}
		}
	}

	var result AuthResult
	if err != nil && !notFound {
		result = failureResult(resp, err, e.Redirect.Failure, s.errorsFor(endpointLogout, e.Endpoint, resp))
	} else {
		result = successResult(resp, nil, e.Redirect.Success, s.messagesFor(endpointLogout, e.Endpoint, resp))
	}

	result.Token = current
	s.record(ctx, ActivityEventLogout, result)
	result.Token = nil
	return result
}

// RequestPasswordReset asks the backend to send reset instructions
func (s *Service) RequestPasswordReset(ctx context.Context, data any) AuthResult {
	return s.plainFlow(ctx, endpointRequestPassword, s.cfg.RequestPassword, data, "")
}

// ResetPassword submits a new password. The reset token and the identity
// keys are copied from query into the payload when the payload lacks them.
func (s *Service) ResetPassword(ctx context.Context, data map[string]any, query url.Values) AuthResult {
	e := s.cfg.ResetPassword
	payload := s.withQuery(data, query)
	if err := requireFields(payload, s.cfg.Query.TokenKey); err != nil {
		return failureResult(nil, err, e.Redirect.Failure, s.errorsFor(endpointResetPassword, e, nil))
	}

	result := s.plainFlow(ctx, endpointResetPassword, e, payload, "")
	if result.Success {
		s.record(ctx, ActivityEventPasswordReset, result)
	}
	return result
}

// ConfirmEmail confirms an email address using the link query parameters
func (s *Service) ConfirmEmail(ctx context.Context, data map[string]any, query url.Values) AuthResult {
	e := s.cfg.ConfirmEmail
	payload := s.withQuery(data, query)
	if err := requireFields(payload, s.cfg.Query.TokenKey); err != nil {
		return failureResult(nil, err, e.Redirect.Failure, s.errorsFor(endpointConfirmEmail, e, nil))
	}
	return s.plainFlow(ctx, endpointConfirmEmail, e, payload, "")
}

// RequestEmailConfirmation asks the backend to resend the confirmation email
func (s *Service) RequestEmailConfirmation(ctx context.Context, data any) AuthResult {
	return s.plainFlow(ctx, endpointRequestConfirmEmail, s.cfg.RequestConfirmEmail, data, "")
}

// Profile loads the authenticated user's profile. The decoded body is
// available on the result response.
func (s *Service) Profile(ctx context.Context) AuthResult {
	return s.plainFlow(ctx, endpointProfile, s.cfg.Profile, nil, s.Token(ctx).Value())
}

func (s *Service) withQuery(data map[string]any, query url.Values) map[string]any {
	payload := make(map[string]any, len(data)+3)
	for k, v := range data {
		payload[k] = v
	}

	for _, key := range []string{s.cfg.Query.TokenKey, s.cfg.Query.EmailKey, s.cfg.Query.UserNameKey} {
		if key == "" {
			continue
		}
		if _, ok := payload[key]; ok {
			continue
		}
		if v := query.Get(key); v != "" {
			payload[key] = v
		}
	}
	return payload
}

func requireFields(payload map[string]any, keys ...string) error {
	fields := map[string]string{}
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := validation.Validate(payload[key], validation.Required); err != nil {
			fields[key] = err.Error()
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return errors.NewValidationFromMap("invalid request payload", fields)
}
