package auth

import (
	"errors"
	"net/http"

	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RegisterAuthRoutes mounts signup, verification, login and the
// current user route on app.
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)

	app.Post(controller.Routes.Signup, controller.Signup).
		SetName("auth.signup")

	app.Post(controller.Routes.VerifyOtp, controller.VerifyOtp).
		SetName("auth.verify-otp")

	app.Post(controller.Routes.Login, controller.Login).
		SetName("auth.login")

	app.Get(controller.Routes.CurrentUser, controller.CurrentUser,
		RequireSession(controller.Flow, controller.ErrorHandler),
	).SetName("auth.user")

	return controller
}

// RegisterHealthRoute mounts the liveness probe
func RegisterHealthRoute[T any](app router.Router[T], path string) {
	if path == "" {
		path = "/health"
	}
	app.Get(path, HealthCheck).SetName("health")
}

// HealthCheck reports the service is up
func HealthCheck(ctx router.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "OK"})
}

type AuthControllerRoutes struct {
	Signup      string
	VerifyOtp   string
	Login       string
	CurrentUser string
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Flow         VerificationFlow
	Routes       *AuthControllerRoutes
	ErrorHandler router.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerFlow(flow VerificationFlow) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Flow = flow
		return c
	}
}

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

func WithControllerRoutes(routes *AuthControllerRoutes) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if routes != nil {
			c.Routes = routes
		}
		return c
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: defLogger{},
		Routes: &AuthControllerRoutes{
			Signup:      "/signup",
			VerifyOtp:   "/verify-otp",
			Login:       "/login",
			CurrentUser: "/user",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = c.renderError
	}

	if c.Flow == nil {
		panic("Missing VerificationFlow in auth controller...")
	}

	return c
}

// SignupPayload is the body of POST /signup
type SignupPayload struct {
	Name     string `form:"name" json:"name"`
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
	Contact  string `form:"contact" json:"contact"`
}

// VerifyOtpPayload is the body of POST /verify-otp. Profile fields sent
// by older clients are accepted and ignored.
type VerifyOtpPayload struct {
	Email string `form:"email" json:"email"`
	Otp   string `form:"otp" json:"otp"`
}

// LoginPayload is the body of POST /login
type LoginPayload struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

type signupResponse struct {
	Message string `json:"message"`
	Email   string `json:"email"`
	Warning string `json:"warning,omitempty"`
}

type sessionResponse struct {
	Message string        `json:"message"`
	Token   string        `json:"token"`
	User    PublicAccount `json:"user"`
}

type userResponse struct {
	User PublicAccount `json:"user"`
}

func (a *AuthController) Signup(ctx router.Context) error {
	payload := new(SignupPayload)
	if err := ctx.Bind(payload); err != nil {
		a.Logger.Warn("signup parse payload", "error", err)
		return a.ErrorHandler(ctx, ErrMalformedRequestBody)
	}

	ack, err := a.Flow.RequestSignup(ctx.Context(), RequestSignupMessage{
		Email:    payload.Email,
		Name:     payload.Name,
		Password: payload.Password,
		Contact:  payload.Contact,
	})
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, signupResponse{
		Message: "OTP sent successfully",
		Email:   ack.Email,
		Warning: ack.Warning,
	})
}

func (a *AuthController) VerifyOtp(ctx router.Context) error {
	payload := new(VerifyOtpPayload)
	if err := ctx.Bind(payload); err != nil {
		a.Logger.Warn("verify otp parse payload", "error", err)
		return a.ErrorHandler(ctx, ErrMalformedRequestBody)
	}

	res, err := a.Flow.VerifyOtp(ctx.Context(), VerifyOtpMessage{
		Email:    payload.Email,
		Passcode: payload.Otp,
	})
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	if a.Debug {
		a.Logger.Debug("account created", "user", print.MaybePrettyJSON(res.Account))
	}

	return ctx.JSON(http.StatusCreated, sessionResponse{
		Message: "Account created successfully",
		Token:   res.Token,
		User:    res.Account,
	})
}

func (a *AuthController) Login(ctx router.Context) error {
	payload := new(LoginPayload)
	if err := ctx.Bind(payload); err != nil {
		a.Logger.Warn("login parse payload", "error", err)
		return a.ErrorHandler(ctx, ErrMalformedRequestBody)
	}

	res, err := a.Flow.RequestLogin(ctx.Context(), LoginMessage{
		Email:    payload.Email,
		Password: payload.Password,
	})
	if err != nil {
		// unknown identities look the same as wrong passwords
		if errors.Is(err, ErrAccountNotFound) {
			err = ErrMismatchedHashAndPassword
		}
		return a.ErrorHandler(ctx, err)
	}

	if a.Debug {
		a.Logger.Debug("login", "user", print.MaybePrettyJSON(res.Account))
	}

	return ctx.JSON(http.StatusOK, sessionResponse{
		Message: "Login successful",
		Token:   res.Token,
		User:    res.Account,
	})
}

func (a *AuthController) CurrentUser(ctx router.Context) error {
	account, ok := GetSessionAccount(ctx)
	if !ok {
		return a.ErrorHandler(ctx, ErrMissingToken)
	}
	return ctx.JSON(http.StatusOK, userResponse{User: *account})
}

func (a *AuthController) renderError(ctx router.Context, err error) error {
	status, body := ErrorStatusAndBody(err)
	if status >= http.StatusInternalServerError {
		a.Logger.Error("request failed", "method", ctx.Method(), "path", ctx.Path(), "error", err)
	} else if a.Debug {
		a.Logger.Debug("request rejected", "status", status, "error", print.MaybePrettyJSON(body))
	}
	return ctx.JSON(status, body)
}
