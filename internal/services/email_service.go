package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/aitimetable/accounts/internal/models"
	pkglogger "github.com/aitimetable/accounts/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// EmailService delivers one templated email. Implementations must respect ctx.
type EmailService interface {
	Notify(ctx context.Context, address string, template models.NotificationTemplate, data map[string]string) error
}

// SESClient is the subset of the SES API used for delivery
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	sesClient   SESClient
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESEmailService loads the default AWS credential chain for region
func NewAWSSESEmailService(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewAWSSESEmailServiceWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

func NewAWSSESEmailServiceWithClient(client SESClient, fromAddress string, logger *slog.Logger) *AWSSESEmailService {
	return &AWSSESEmailService{
		sesClient:   client,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

func (s *AWSSESEmailService) Notify(ctx context.Context, address string, template models.NotificationTemplate, data map[string]string) error {
	msg, err := renderNotification(template, data)
	if err != nil {
		return err
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{address},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.subject)},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(msg.html)},
				Text: &types.Content{Data: aws.String(msg.text)},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("template", string(template)),
			slog.String("email", pkglogger.SanitizedEmail(address)),
			slog.Any("error", err))
		return fmt.Errorf("%w: send email: %v", models.ErrDependency, err)
	}

	s.logger.Info("email sent",
		slog.String("template", string(template)),
		slog.String("email", pkglogger.SanitizedEmail(address)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

// LogEmailService stands in for SES when email is disabled. It always
// reports failure so callers fall back to returning the code.
type LogEmailService struct {
	logger *slog.Logger
}

func NewLogEmailService(logger *slog.Logger) *LogEmailService {
	return &LogEmailService{logger: logger}
}

func (s *LogEmailService) Notify(ctx context.Context, address string, template models.NotificationTemplate, data map[string]string) error {
	s.logger.Info("email delivery disabled, dropping message",
		slog.String("template", string(template)),
		slog.String("email", pkglogger.SanitizedEmail(address)))
	return fmt.Errorf("%w: email delivery disabled", models.ErrDependency)
}

type renderedEmail struct {
	subject string
	html    string
	text    string
}

func renderNotification(template models.NotificationTemplate, data map[string]string) (renderedEmail, error) {
	name := data["name"]
	if name == "" {
		name = "there"
	}

	switch template {
	case models.TemplateOTPCode:
		code := data["code"]
		if code == "" {
			return renderedEmail{}, fmt.Errorf("otp_code template requires a code")
		}
		return renderedEmail{
			subject: "Email Verification OTP",
			html: fmt.Sprintf(`<h2>OTP Verification</h2><p>Your OTP is <b>%s</b>. It expires in %s.</p>`,
				html.EscapeString(code), html.EscapeString(data["expires_in"])),
			text: fmt.Sprintf("Your OTP is %s. It expires in %s.\n", code, data["expires_in"]),
		}, nil

	case models.TemplateWelcome:
		role := models.Role(data["role"])
		roleMsg := "Welcome to the AI Timetable System! Your account is ready."
		if role == models.RoleFaculty {
			roleMsg = "Thank you for registering as Faculty. Please wait for admin approval."
		}
		return renderedEmail{
			subject: "Welcome " + roleTitle(role),
			html:    fmt.Sprintf(`<h3>Hello %s,</h3><p>%s</p>`, html.EscapeString(name), roleMsg),
			text:    fmt.Sprintf("Hello %s,\n\n%s\n", name, roleMsg),
		}, nil

	case models.TemplateFacultyApproved:
		return renderedEmail{
			subject: "Faculty Account Approved",
			html: fmt.Sprintf(`<h2>Hello %s,</h2>
<p>Your faculty account has been <b>approved</b> by the admin.</p>
<p>You can now log in and start using the platform.</p>`, html.EscapeString(name)),
			text: fmt.Sprintf("Hello %s,\n\nYour faculty account has been approved by the admin.\nYou can now log in and start using the platform.\n", name),
		}, nil
	}

	return renderedEmail{}, fmt.Errorf("unknown notification template %q", template)
}

func roleTitle(role models.Role) string {
	if role == "" {
		return "User"
	}
	return strings.ToUpper(string(role[:1])) + string(role[1:])
}
