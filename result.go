package authclient

import (
	"fmt"
	"sort"
	"strings"
)

// AuthResult is the uniform outcome of every identity operation. Network and
// HTTP failures are carried here instead of being returned as errors.
type AuthResult struct {
	Success  bool
	Response *Response
	Token    *Token
	Errors   []string
	Messages []string
	Redirect string
	Err      error
}

// IsSuccess reports a successful operation
func (r AuthResult) IsSuccess() bool {
	return r.Success
}

// Failed reports a failed operation
func (r AuthResult) Failed() bool {
	return !r.Success
}

// StatusCode returns the HTTP status of the underlying response, 0 without one
func (r AuthResult) StatusCode() int {
	if r.Response == nil {
		return 0
	}
	return r.Response.StatusCode
}

func successResult(resp *Response, token *Token, redirect string, messages []string) AuthResult {
	return AuthResult{
		Success:  true,
		Response: resp,
		Token:    token,
		Messages: messages,
		Redirect: redirect,
	}
}

func failureResult(resp *Response, err error, redirect string, errs []string) AuthResult {
	return AuthResult{
		Success:  false,
		Response: resp,
		Errors:   errs,
		Redirect: redirect,
		Err:      err,
	}
}

// LookupPath reads a dotted path such as "data.token" from a decoded JSON body
func LookupPath(body map[string]any, path string) (any, bool) {
	if body == nil || path == "" {
		return nil, false
	}

	var current any = body
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// LookupString reads a string value at path
func LookupString(body map[string]any, path string) string {
	v, ok := LookupPath(body, path)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LookupStrings flattens a list, a single string, or a field keyed map of
// messages into a list of strings.
func LookupStrings(body map[string]any, path string) []string {
	v, ok := LookupPath(body, path)
	if !ok {
		return nil
	}
	return flattenStrings(v)
}

func flattenStrings(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, flattenStrings(item)...)
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]string, 0, len(keys))
		for _, k := range keys {
			out = append(out, flattenStrings(val[k])...)
		}
		return out
	default:
		return []string{fmt.Sprint(val)}
	}
}
