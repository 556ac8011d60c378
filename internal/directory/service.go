package directory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opencoding/backend/internal/auth"
	"github.com/opencoding/backend/internal/metrics"
	"github.com/opencoding/backend/internal/storage/models"
	"github.com/opencoding/backend/internal/storage/sqlite"
	"github.com/opencoding/backend/pkg/logger"
)

const (
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
)

// WebhookEvent is the identity provider's event envelope.
type WebhookEvent struct {
	Type string           `json:"type"`
	Data WebhookEventData `json:"data"`
}

type WebhookEventData struct {
	ID             string         `json:"id"`
	EmailAddresses []emailAddress `json:"email_addresses"`
	FirstName      string         `json:"first_name"`
	LastName       string         `json:"last_name"`
}

type emailAddress struct {
	EmailAddress string `json:"email_address"`
}

// Service mirrors identity-provider accounts into the local users table.
type Service struct {
	db *sqlite.Client
}

func NewService(db *sqlite.Client) *Service {
	return &Service{db: db}
}

// HandleEvent applies one provider event. Unknown event types are logged
// and ignored; deleting an already-absent user succeeds.
func (s *Service) HandleEvent(event *WebhookEvent) error {
	metrics.WebhookEvents.WithLabelValues(event.Type).Inc()

	switch event.Type {
	case EventUserCreated, EventUserUpdated:
		if event.Data.ID == "" {
			return fmt.Errorf("event %s missing user id", event.Type)
		}
		now := time.Now()
		user := &models.User{
			ProviderID: event.Data.ID,
			Email:      primaryEmail(event.Data.EmailAddresses),
			Name:       strings.TrimSpace(event.Data.FirstName + " " + event.Data.LastName),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.db.UpsertUser(user); err != nil {
			return err
		}
		logger.Info("User synced", zap.String("provider_id", user.ProviderID))
		return nil

	case EventUserDeleted:
		if event.Data.ID == "" {
			return errors.New("delete event missing user id")
		}
		if err := s.db.DeleteUser(event.Data.ID); err != nil {
			return err
		}
		logger.Info("User deleted", zap.String("provider_id", event.Data.ID))
		return nil

	default:
		logger.Warn("Ignoring unknown webhook event", zap.String("type", event.Type))
		return nil
	}
}

// EnsureUser returns the local record for a verified identity, creating it
// on first sight when the provider webhook has not arrived yet.
func (s *Service) EnsureUser(identity *auth.Identity) (*models.User, error) {
	user, err := s.db.GetUser(identity.UserID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sqlite.ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	user = &models.User{
		ProviderID: identity.UserID,
		Email:      identity.Email,
		Name:       identity.Name,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.UpsertUser(user); err != nil {
		return nil, err
	}

	return s.db.GetUser(identity.UserID)
}

func primaryEmail(addresses []emailAddress) string {
	if len(addresses) == 0 {
		return ""
	}
	return addresses[0].EmailAddress
}
