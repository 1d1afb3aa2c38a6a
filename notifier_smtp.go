package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/wneessen/go-mail"
)

// SMTPConfig holds the mail transport settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

type mailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPNotifier delivers passcodes by email
type SMTPNotifier struct {
	from     string
	sender   mailSender
	renderer *PasscodeRenderer
}

// NewSMTPNotifier creates the notifier. From defaults to the username.
func NewSMTPNotifier(cfg SMTPConfig, renderer *PasscodeRenderer) (*SMTPNotifier, error) {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create smtp client")
	}

	return newSMTPNotifier(cfg.From, client, renderer)
}

func newSMTPNotifier(from string, sender mailSender, renderer *PasscodeRenderer) (*SMTPNotifier, error) {
	if renderer == nil {
		var err error
		if renderer, err = NewPasscodeRenderer(nil); err != nil {
			return nil, err
		}
	}
	return &SMTPNotifier{from: from, sender: sender, renderer: renderer}, nil
}

// Deliver renders and sends the passcode email. Transport and address
// errors are reported as ErrDeliveryFailed.
func (n *SMTPNotifier) Deliver(ctx context.Context, notification PasscodeNotification) error {
	body, err := n.renderer.Render(notification)
	if err != nil {
		return err
	}

	msg := mail.NewMsg()
	if err := msg.From(n.from); err != nil {
		return deliveryError(err, "invalid sender address")
	}
	if err := msg.To(notification.Email); err != nil {
		return deliveryError(err, "invalid recipient address")
	}
	msg.Subject(PasscodeEmailSubject)
	msg.SetBodyString(mail.TypeTextHTML, body)

	if err := n.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return deliveryError(err, "failed to send passcode email")
	}
	return nil
}

func deliveryError(err error, msg string) error {
	return goerrors.Wrap(err, ErrDeliveryFailed.Category, msg).
		WithTextCode(TextCodeDeliveryFailed).
		WithCode(goerrors.CodeInternal)
}
