package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tcmartin/devportal/pkg/auth"
	"github.com/tcmartin/devportal/pkg/logging"
	"github.com/tcmartin/devportal/pkg/mail"
	"github.com/tcmartin/devportal/pkg/storage"
)

// InvitationTTL is how long an invitation can be accepted
const InvitationTTL = 7 * 24 * time.Hour

var (
	// ErrInvitationAccepted is returned when an invitation was already used
	ErrInvitationAccepted = errors.New("invitation already accepted")

	// ErrInvitationExpired is returned after InvitationTTL has passed
	ErrInvitationExpired = errors.New("invitation expired")

	// ErrInvalidInvitationToken is returned when the token does not match
	ErrInvalidInvitationToken = errors.New("invalid invitation token")
)

// InvitationView is an invitation without its token hash
type InvitationView struct {
	ID        string     `json:"id"`
	OrgID     string     `json:"org_id"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	InvitedBy string     `json:"invited_by"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	Accepted  *time.Time `json:"accepted_at,omitempty"`
}

// CreatedInvitation is returned once, right after an invitation is sent
type CreatedInvitation struct {
	InvitationView
	AcceptURL string `json:"accept_url"`
}

// InvitationService invites teammates into an organization
type InvitationService struct {
	store     storage.InvitationStore
	members   storage.MembershipStore
	sender    mail.Sender
	publicURL string
	logger    logging.Logger
	now       func() time.Time
	cost      int

	// serializes Accept so a token is used at most once
	acceptMu sync.Mutex
}

// NewInvitationService creates a new invitation service. publicURL is the
// portal address used in invitation links.
func NewInvitationService(store storage.InvitationStore, members storage.MembershipStore, sender mail.Sender, publicURL string, logger logging.Logger) *InvitationService {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &InvitationService{
		store:     store,
		members:   members,
		sender:    sender,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger,
		now:       time.Now,
		cost:      bcrypt.DefaultCost,
	}
}

// Invite creates an invitation and emails its link
func (s *InvitationService) Invite(ctx context.Context, p auth.Principal, email, role string) (CreatedInvitation, error) {
	if !p.IsAdmin() {
		return CreatedInvitation{}, ErrForbidden
	}
	addr, err := gomail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return CreatedInvitation{}, invalid("email", "is not a valid address")
	}
	role = strings.ToLower(strings.TrimSpace(role))
	switch role {
	case "":
		role = auth.RoleMember
	case auth.RoleAdmin, auth.RoleMember, auth.RoleViewer:
	default:
		return CreatedInvitation{}, invalid("role", "must be one of admin, member, viewer")
	}

	token, err := generateInvitationToken()
	if err != nil {
		return CreatedInvitation{}, fmt.Errorf("failed to generate invitation token: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), s.cost)
	if err != nil {
		return CreatedInvitation{}, fmt.Errorf("failed to hash invitation token: %w", err)
	}

	now := s.now().UTC()
	inv := storage.Invitation{
		ID:        uuid.NewString(),
		OrgID:     p.OrgID,
		Email:     strings.ToLower(addr.Address),
		Role:      role,
		TokenHash: string(hash),
		InvitedBy: p.UserID,
		CreatedAt: now,
		ExpiresAt: now.Add(InvitationTTL),
	}
	if err := s.store.SaveInvitation(inv); err != nil {
		return CreatedInvitation{}, fmt.Errorf("failed to save invitation: %w", err)
	}

	link := s.acceptURL(inv.ID, token)
	inviter := p.Email
	if inviter == "" {
		inviter = "A teammate"
	}
	err = s.sender.Send(ctx, mail.Message{
		To:      []string{inv.Email},
		Subject: "You've been invited to the developer portal",
		Body: fmt.Sprintf("%s invited you to join their organization as %s.\n\nAccept the invitation: %s\n\nThe link expires on %s.\n",
			inviter, role, link, inv.ExpiresAt.Format("January 2, 2006")),
		Headers: map[string]string{"X-Portal-Invitation": inv.ID},
	})
	if err != nil {
		// nobody holds the token, so retire the invitation
		inv.ExpiresAt = now
		if saveErr := s.store.SaveInvitation(inv); saveErr != nil {
			s.logger.Error("failed to retire unsent invitation",
				logging.F("invitation_id", inv.ID), logging.Err(saveErr))
		}
		return CreatedInvitation{}, fmt.Errorf("failed to send invitation email: %w", err)
	}

	s.logger.Info("invitation sent",
		logging.F("invitation_id", inv.ID), logging.F("org_id", inv.OrgID), logging.F("invited_by", p.UserID))
	return CreatedInvitation{InvitationView: viewOf(inv), AcceptURL: link}, nil
}

// Accept redeems an invitation for the caller and adds the membership
func (s *InvitationService) Accept(ctx context.Context, p auth.Principal, id, token string) (storage.Membership, error) {
	s.acceptMu.Lock()
	defer s.acceptMu.Unlock()

	inv, err := s.store.GetInvitation(id)
	if err != nil {
		return storage.Membership{}, err
	}

	now := s.now().UTC()
	switch {
	case inv.AcceptedAt != nil:
		return storage.Membership{}, ErrInvitationAccepted
	case !now.Before(inv.ExpiresAt):
		return storage.Membership{}, ErrInvitationExpired
	}
	if bcrypt.CompareHashAndPassword([]byte(inv.TokenHash), []byte(token)) != nil {
		return storage.Membership{}, ErrInvalidInvitationToken
	}
	if p.Email != "" && !strings.EqualFold(p.Email, inv.Email) {
		return storage.Membership{}, ErrForbidden
	}

	// The invitation stays redeemable until the membership exists
	m := storage.Membership{UserID: p.UserID, OrgID: inv.OrgID, Role: inv.Role, JoinedAt: now}
	if err := s.members.AddMember(m); err != nil {
		return storage.Membership{}, fmt.Errorf("failed to add member: %w", err)
	}

	inv.AcceptedAt = &now
	inv.AcceptedBy = p.UserID
	if err := s.store.SaveInvitation(inv); err != nil {
		return storage.Membership{}, fmt.Errorf("failed to update invitation: %w", err)
	}

	s.logger.Info("invitation accepted",
		logging.F("invitation_id", inv.ID), logging.F("org_id", inv.OrgID), logging.F("user_id", p.UserID))
	return m, nil
}

// ListPending returns the organization's open invitations, newest first
func (s *InvitationService) ListPending(p auth.Principal) ([]InvitationView, error) {
	if !p.IsAdmin() {
		return nil, ErrForbidden
	}
	all, err := s.store.ListInvitations(p.OrgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}

	now := s.now()
	out := make([]InvitationView, 0, len(all))
	for _, inv := range all {
		if inv.Pending(now) {
			out = append(out, viewOf(inv))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InvitationService) acceptURL(id, token string) string {
	q := url.Values{"token": {token}}
	return s.publicURL + "/invitations/" + url.PathEscape(id) + "/accept?" + q.Encode()
}

func viewOf(inv storage.Invitation) InvitationView {
	return InvitationView{
		ID:        inv.ID,
		OrgID:     inv.OrgID,
		Email:     inv.Email,
		Role:      inv.Role,
		InvitedBy: inv.InvitedBy,
		CreatedAt: inv.CreatedAt,
		ExpiresAt: inv.ExpiresAt,
		Accepted:  inv.AcceptedAt,
	}
}

func generateInvitationToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
