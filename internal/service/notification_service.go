package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/request-engine/internal/config"
	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/events"
	"github.com/spec-kit/request-engine/internal/repository"
)

var adminRoles = []domain.OrgRole{domain.RoleAdmin, domain.RoleSuperAdmin}

// NotificationService delivers engine events to people. Delivery transport
// is a logged email stub plus an optional JSON webhook.
type NotificationService struct {
	dispatcher events.Dispatcher
	members    repository.MemberRepository
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, members repository.MemberRepository, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		members:    members,
		logger:     logger.Named("notifications"),
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, eventType := range []events.EventType{
		events.EventRequestAssigned,
		events.EventRequestEscalated,
		events.EventRequestAccepted,
		events.EventRequestCompleted,
		events.EventRequestCancelled,
		events.EventRequestUnassigned,
		events.EventEscalationExhausted,
	} {
		n.dispatcher.Subscribe(eventType, n.handle)
	}
}

func (n *NotificationService) handle(ctx context.Context, event events.Event) error {
	recipients, err := n.recipients(ctx, event)
	if err != nil {
		return err
	}
	n.logger.Info(string(event.Type),
		zap.String("request_id", event.RequestID),
		zap.Strings("recipients", recipients),
		zap.Any("payload", event.Payload))
	n.sendEmailNotificationStub(event, recipients)
	return n.sendWebhook(event, recipients)
}

// recipients falls back to the organization's admins for alert events.
func (n *NotificationService) recipients(ctx context.Context, event events.Event) ([]string, error) {
	if len(event.Recipients) > 0 {
		return event.Recipients, nil
	}
	if n.members == nil {
		return nil, nil
	}
	admins, err := n.members.ListByRoles(ctx, event.OrganizationID, adminRoles)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return domain.MemberIDs(admins), nil
}

func (n *NotificationService) sendEmailNotificationStub(event events.Event, recipients []string) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" || len(recipients) == 0 {
		return
	}
	n.logger.Debug("sendEmailNotificationStub",
		zap.String("from", n.cfg.EmailFrom),
		zap.Strings("to", recipients),
		zap.String("request_id", event.RequestID),
		zap.String("event_type", string(event.Type)))
}

type webhookBody struct {
	events.Event
	Recipients []string `json:"recipients"`
}

func (n *NotificationService) sendWebhook(event events.Event, recipients []string) error {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return nil
	}
	agent := fiber.Post(n.cfg.WebhookURL)
	if n.cfg.WebhookTimeout > 0 {
		agent.Timeout(n.cfg.WebhookTimeout)
	}
	agent.JSON(webhookBody{Event: event, Recipients: recipients})
	if err := agent.Parse(); err != nil {
		return fmt.Errorf("webhook %s: %w", event.Type, err)
	}
	code, _, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("webhook %s: %w", event.Type, errors.Join(errs...))
	}
	if code >= fiber.StatusBadRequest {
		return fmt.Errorf("webhook %s: unexpected status %d", event.Type, code)
	}
	return nil
}
