package auth

import (
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// SessionAccountKey is the locals key holding the *PublicAccount of an
// authenticated request.
const SessionAccountKey = "session_account"

const bearerScheme = "Bearer"

// ErrMalformedRequestBody is returned when a request body can not be bound
var ErrMalformedRequestBody = goerrors.New("Malformed request body", goerrors.CategoryBadInput).
	WithTextCode(TextCodeMalformedRequestBody).
	WithCode(goerrors.CodeBadRequest)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Message string       `json:"message"`
	Error   ErrorDetails `json:"error"`
}

// ErrorDetails carries the machine readable part of an error
type ErrorDetails struct {
	Category string         `json:"category"`
	TextCode string         `json:"text_code"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ExtractBearerToken returns the token of an Authorization header value
func ExtractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", ErrMissingToken
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// ErrorStatusAndBody maps an error to its HTTP status and body. Errors
// that are not rich errors, or are internal, become a generic 500.
func ErrorStatusAndBody(err error) (int, ErrorResponse) {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return http.StatusInternalServerError, internalErrorResponse()
	}

	status := richErr.Code
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}

	if status >= 500 && richErr.TextCode != TextCodeDeliveryFailed {
		return status, internalErrorResponse()
	}

	return status, ErrorResponse{
		Message: richErr.Message,
		Error: ErrorDetails{
			Category: fmt.Sprint(richErr.Category),
			TextCode: richErr.TextCode,
			Metadata: richErr.Metadata,
		},
	}
}

func internalErrorResponse() ErrorResponse {
	return ErrorResponse{
		Message: "Internal server error",
		Error: ErrorDetails{
			Category: fmt.Sprint(goerrors.CategoryInternal),
			TextCode: TextCodeInternal,
		},
	}
}

// RequireSession rejects requests without a valid bearer token and
// stores the session account in the request locals.
func RequireSession(flow VerificationFlow, errHandler router.ErrorHandler) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			token, err := ExtractBearerToken(ctx.Header(router.HeaderAuthorization))
			if err != nil {
				return errHandler(ctx, err)
			}

			account, err := flow.AccountFromToken(ctx.Context(), token)
			if err != nil {
				return errHandler(ctx, err)
			}

			ctx.Locals(SessionAccountKey, account)
			return next(ctx)
		}
	}
}

// GetSessionAccount returns the account stored by RequireSession
func GetSessionAccount(ctx router.Context) (*PublicAccount, bool) {
	account, ok := ctx.Locals(SessionAccountKey).(*PublicAccount)
	return account, ok && account != nil
}
