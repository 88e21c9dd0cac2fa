package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/metamax/dashboard/internal/core/domain"
	"github.com/metamax/dashboard/internal/core/ports"
)

const (
	msgInvalidPayload = "invalid payload"
	msgCreated        = "User created successfully"
	msgExisting       = "User already exists"
	msgInternal       = "Internal server error"
)

// Error codes let clients classify a failure without reading its message.
const (
	CodeInvalidPayload   = "invalid_payload"
	CodeValidation       = "validation_failed"
	CodeProviderRejected = "provider_rejected"
	CodeInternal         = "internal_error"
)

type SignupHandler struct {
	accounts ports.AccountService
	log      zerolog.Logger
}

func NewSignupHandler(accounts ports.AccountService, log zerolog.Logger) *SignupHandler {
	return &SignupHandler{accounts: accounts, log: log}
}

type signupRequest struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name"`
}

type signupResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	User    *domain.Identity `json:"user,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Signup creates a pre-confirmed account. Registering an email twice is not
// an error.
//
// @Summary      Create an account
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      signupRequest  true  "Account details"
// @Success      200   {object}  signupResponse
// @Failure      400   {object}  errorBody
// @Failure      500   {object}  errorBody
// @Router       /api/signup [post]
// @Router       /api/auth/signup [post]
func (h *SignupHandler) Signup(c echo.Context) error {
	var req signupRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: msgInvalidPayload, Code: CodeInvalidPayload})
	}

	req.Email = strings.TrimSpace(req.Email)
	if domain.CredentialsMissing(req.Email, req.Password) {
		return c.JSON(http.StatusBadRequest, errorBody{Error: domain.MsgCredentialsRequired, Code: CodeValidation})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: CodeValidation})
	}

	res, err := h.accounts.CreateAccount(c.Request().Context(), domain.NewAccount{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	switch domain.KindOf(err) {
	case nil:
		if res.Existing {
			return c.JSON(http.StatusOK, signupResponse{Success: true, Message: msgExisting})
		}
		return c.JSON(http.StatusOK, signupResponse{Success: true, Message: msgCreated, User: res.Identity})
	case domain.ErrValidation:
		return c.JSON(http.StatusBadRequest, errorBody{Error: domain.MessageOf(err), Code: CodeValidation})
	case domain.ErrProvider:
		return c.JSON(http.StatusBadRequest, errorBody{Error: domain.MessageOf(err), Code: CodeProviderRejected})
	default:
		h.log.Error().
			Err(err).
			Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
			Msg("signup failed")
		return c.JSON(http.StatusInternalServerError, errorBody{Error: msgInternal, Code: CodeInternal})
	}
}
