package auth

import (
	"bytes"
	"context"
	"io/fs"
	"math"
	"net/http"

	"github.com/gofiber/template/django/v3"
	goerrors "github.com/goliatone/go-errors"
)

// PasscodeEmailSubject is the subject of the verification email
const PasscodeEmailSubject = "Your OTP for Account Verification"

const passcodeEmailTemplate = "otp_email"

// NotifierFunc adapts a function to the PasscodeNotifier interface
type NotifierFunc func(ctx context.Context, notification PasscodeNotification) error

// Deliver implements PasscodeNotifier
func (f NotifierFunc) Deliver(ctx context.Context, notification PasscodeNotification) error {
	return f(ctx, notification)
}

// LogNotifier writes the passcode to the logger instead of sending it.
// Meant for local development.
type LogNotifier struct {
	Logger Logger
}

func (n LogNotifier) Deliver(_ context.Context, notification PasscodeNotification) error {
	logger := n.Logger
	if logger == nil {
		logger = defLogger{}
	}
	logger.Info("dev passcode notification",
		"email", notification.Email,
		"name", notification.Name,
		"passcode", notification.Passcode,
		"expires_in", notification.ExpiresIn.String(),
	)
	return nil
}

// PasscodeRenderer renders the HTML body of passcode emails
type PasscodeRenderer struct {
	engine *django.Engine
}

// NewPasscodeRenderer loads templates from fsys, the embedded templates
// are used when fsys is nil.
func NewPasscodeRenderer(fsys fs.FS) (*PasscodeRenderer, error) {
	if fsys == nil {
		fsys = GetTemplatesFS()
	}

	engine := django.NewFileSystem(http.FS(fsys), ".html")
	if err := engine.Load(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load email templates")
	}

	return &PasscodeRenderer{engine: engine}, nil
}

// Render returns the HTML body for the notification
func (r *PasscodeRenderer) Render(notification PasscodeNotification) (string, error) {
	minutes := int(math.Ceil(notification.ExpiresIn.Minutes()))
	if minutes <= 0 {
		minutes = int(DefaultPasscodeTTL.Minutes())
	}

	name := notification.Name
	if name == "" {
		name = notification.Email
	}

	var buf bytes.Buffer
	err := r.engine.Render(&buf, passcodeEmailTemplate, map[string]any{
		"name":     name,
		"passcode": notification.Passcode,
		"minutes":  minutes,
	})
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render passcode email")
	}
	return buf.String(), nil
}
