package gotrue

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/metamax/dashboard/internal/core/domain"
)

// apiError covers the three error shapes the provider emits: the current
// {error_code, msg}, the legacy {code, msg} and OAuth {error,
// error_description}.
type apiError struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e apiError) code() string {
	if e.ErrorCode != "" {
		return e.ErrorCode
	}
	if s, ok := e.Code.(string); ok && s != "" {
		if _, err := strconv.Atoi(s); err != nil {
			return s
		}
	}
	return e.Error
}

func (e apiError) message(status int) string {
	for _, m := range []string{e.Msg, e.Message, e.ErrorDescription} {
		if m != "" {
			return m
		}
	}
	return http.StatusText(status)
}

var codeKinds = map[string]error{
	"email_exists":            domain.ErrDuplicateAccount,
	"user_already_exists":     domain.ErrDuplicateAccount,
	"identity_already_exists": domain.ErrDuplicateAccount,
	"phone_exists":            domain.ErrDuplicateAccount,

	"invalid_credentials":        domain.ErrInvalidCredentials,
	"invalid_grant":              domain.ErrInvalidCredentials,
	"refresh_token_not_found":    domain.ErrInvalidCredentials,
	"refresh_token_already_used": domain.ErrInvalidCredentials,
	"session_not_found":          domain.ErrInvalidCredentials,
	"session_expired":            domain.ErrInvalidCredentials,
	"bad_jwt":                    domain.ErrInvalidCredentials,
	"no_authorization":           domain.ErrInvalidCredentials,
	"user_not_found":             domain.ErrInvalidCredentials,
	"email_not_confirmed":        domain.ErrInvalidCredentials,

	"validation_failed":            domain.ErrValidation,
	"email_address_invalid":        domain.ErrValidation,
	"email_address_not_authorized": domain.ErrValidation,
	"weak_password":                domain.ErrValidation,
	"bad_json":                     domain.ErrValidation,
}

// adminOnly codes mean the server's own key was refused. They are a server
// misconfiguration, not something the caller can correct.
var adminOnly = map[string]bool{
	"not_admin":        true,
	"no_authorization": true,
	"bad_jwt":          true,
}

// decodeError classifies a non-2xx provider response by its structured code,
// falling back to the HTTP status.
func decodeError(c call, status int, body []byte) error {
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	code := ae.code()

	return &domain.AuthError{
		Kind:    classify(c, status, code),
		Code:    code,
		Status:  status,
		Message: ae.message(status),
	}
}

func classify(c call, status int, code string) error {
	if c.admin && (adminOnly[code] || status == http.StatusUnauthorized || status == http.StatusForbidden) {
		return domain.ErrUnknown
	}
	if kind, ok := codeKinds[code]; ok {
		return kind
	}

	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return domain.ErrInvalidCredentials
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		return domain.ErrNetwork
	case status >= 500:
		return domain.ErrUnknown
	default:
		return domain.ErrProvider
	}
}
