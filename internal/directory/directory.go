// Package directory maps external identities to app profiles and enforces
// the campus email allow-list. Domain or verification failures on sign-in
// are policy gates (nil profile, nil error), not errors; only RequireActive
// turns a missing profile into Unauthorized.
package directory

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/efebausal/bilshare/internal/apperr"
	"github.com/efebausal/bilshare/internal/identity"
	"github.com/efebausal/bilshare/internal/models"
	"github.com/efebausal/bilshare/internal/storage"
)

type Service struct {
	store  storage.Store
	domain string
	logger *slog.Logger
}

func New(store storage.Store, allowedDomain string, logger *slog.Logger) *Service {
	return &Service{store: store, domain: strings.ToLower(allowedDomain), logger: logger}
}

// DomainAllowed checks the substring after the last '@', lowercased, against
// the allow-listed domain; subdomains count.
func (s *Service) DomainAllowed(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	return domain == s.domain || strings.HasSuffix(domain, "."+s.domain)
}

// ResolveOrCreate returns the profile for an authenticated identity,
// creating one on first verified sign-in from the allowed domain. A nil
// profile with nil error means the identity is gated, not broken.
func (s *Service) ResolveOrCreate(ctx context.Context, id identity.Identity) (*models.User, error) {
	u, err := s.store.GetUserByExternalID(ctx, id.ExternalID)
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Internal(err)
	}
	if !id.EmailVerified || !s.DomainAllowed(id.Email) {
		return nil, nil
	}
	now := time.Now().UTC()
	u = models.User{
		ID:         uuid.NewString(),
		ExternalID: id.ExternalID,
		Email:      id.Email,
		Name:       nameOrLocalPart(id.Name, id.Email),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateUser(ctx, &u); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// lost a race with the webhook upsert; re-read
			existing, gerr := s.store.GetUserByExternalID(ctx, id.ExternalID)
			if gerr == nil {
				return &existing, nil
			}
		}
		return nil, apperr.Internal(err)
	}
	s.logger.Info("profile created on sign-in", "user_id", u.ID, "email", u.Email)
	return &u, nil
}

// RequireActive is the precondition for every authenticated operation: a
// known, non-blocked profile. A gated identity (nil profile) fails the same
// way a missing one does.
func (s *Service) RequireActive(u *models.User) error {
	if u == nil {
		return apperr.Unauthorized("no app profile found")
	}
	if u.Blocked {
		return apperr.Unauthorized("account is blocked")
	}
	return nil
}

// ApplyIdentityEvent reconciles a provider lifecycle event. Upserts are
// idempotent and keyed by external id; events for unverified or
// foreign-domain primary emails are acknowledged and ignored.
func (s *Service) ApplyIdentityEvent(ctx context.Context, ev identity.Event) error {
	switch ev.Type {
	case identity.EventUserCreated, identity.EventUserUpdated:
		email, verified := ev.Data.PrimaryEmail()
		if email == "" {
			return nil
		}
		if !s.DomainAllowed(email) {
			s.logger.Info("ignoring identity event for foreign domain", "email", email)
			return nil
		}
		if !verified {
			return nil
		}
		name := strings.TrimSpace(ev.Data.FirstName + " " + ev.Data.LastName)
		return s.upsert(ctx, ev.Data.ID, email, nameOrLocalPart(name, email))
	case identity.EventUserDeleted:
		if err := s.store.DeleteUserByExternalID(ctx, ev.Data.ID); err != nil {
			return apperr.Internal(err)
		}
		return nil
	default:
		return nil
	}
}

func (s *Service) upsert(ctx context.Context, externalID, email, name string) error {
	u, err := s.store.GetUserByExternalID(ctx, externalID)
	if errors.Is(err, storage.ErrNotFound) {
		now := time.Now().UTC()
		u = models.User{
			ID:         uuid.NewString(),
			ExternalID: externalID,
			Email:      email,
			Name:       name,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if cerr := s.store.CreateUser(ctx, &u); cerr != nil && !errors.Is(cerr, storage.ErrDuplicate) {
			return apperr.Internal(cerr)
		}
		return nil
	}
	if err != nil {
		return apperr.Internal(err)
	}
	u.Email = email
	u.Name = name
	u.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateUser(ctx, &u); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// ProfileParams are the user-editable profile fields.
type ProfileParams struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	CarModel string `json:"car_model"`
	CarPlate string `json:"car_plate"`
	Bio      string `json:"bio"`
}

var phonePattern = regexp.MustCompile(`^[+]?[\d\s()-]*$`)

func (p ProfileParams) validate() error {
	if n := strings.TrimSpace(p.Name); n == "" || utf8.RuneCountInString(n) > 100 {
		return apperr.InvalidArgument("name must be 1-100 characters")
	}
	if len(p.Phone) > 20 || !phonePattern.MatchString(p.Phone) {
		return apperr.InvalidArgument("invalid phone number")
	}
	if utf8.RuneCountInString(p.CarModel) > 100 {
		return apperr.InvalidArgument("car model too long")
	}
	if utf8.RuneCountInString(p.CarPlate) > 20 {
		return apperr.InvalidArgument("car plate too long")
	}
	if utf8.RuneCountInString(p.Bio) > 300 {
		return apperr.InvalidArgument("bio too long")
	}
	return nil
}

func (s *Service) UpdateProfile(ctx context.Context, user *models.User, p ProfileParams) (*models.User, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	u := *user
	u.Name = strings.TrimSpace(p.Name)
	u.Phone = strings.TrimSpace(p.Phone)
	u.CarModel = strings.TrimSpace(p.CarModel)
	u.CarPlate = strings.TrimSpace(p.CarPlate)
	u.Bio = strings.TrimSpace(p.Bio)
	u.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateUser(ctx, &u); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, apperr.Internal(err)
	}
	return &u, nil
}

func nameOrLocalPart(name, email string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}
