// Package authclient is the client side of a token based REST auth backend.
// It keeps the session token, calls the login, logout and refresh endpoints,
// and decorates outbound requests with the current token.
//
// Token lifecycle:
//   - TokenStore is the single source of truth for the current Token. It
//     persists the raw value through a Storage implementation and publishes
//     every Set on a change stream. Clearing publishes nothing.
//   - Service is the only writer of the store. IsAuthenticatedOrRefresh
//     refreshes an expired token with at most one refresh call in flight;
//     concurrent callers wait for that call and observe its outcome.
//
// Outbound requests:
//   - Interceptor is an http.RoundTripper that attaches the token to requests
//     for allowed hosts unless the route is disallowed. Wrap a client with
//     NewHTTPClient.
//
// Activity sinks:
//   - ActivitySink receives login, logout, refresh and password reset events.
//     Sinks run best-effort (errors are logged).
package authclient
