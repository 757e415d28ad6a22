// Package workspace tracks which organization a portal user is working in.
package workspace

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tcmartin/devportal/pkg/storage"
)

// CurrentOrgKey is the preference key holding the selected organization
const CurrentOrgKey = "workspace.current_org"

// ErrNotMember is returned when selecting an organization the user is not in
var ErrNotMember = errors.New("workspace: not a member of organization")

// Store persists workspace settings for one user
type Store interface {
	// Get returns the value and whether it was set
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// MembershipLister finds the organizations a user belongs to
type MembershipLister interface {
	ListMemberships(userID string) ([]storage.Membership, error)
}

// PreferenceStore adapts a storage.PreferenceStore to one user's Store
func PreferenceStore(prefs storage.PreferenceStore, userID string) Store {
	return preferenceStore{prefs: prefs, userID: userID}
}

type preferenceStore struct {
	prefs  storage.PreferenceStore
	userID string
}

func (s preferenceStore) Get(key string) (string, bool, error) {
	v, err := s.prefs.GetPreference(s.userID, key)
	if errors.Is(err, storage.ErrPreferenceNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s preferenceStore) Set(key, value string) error {
	return s.prefs.SetPreference(s.userID, key, value)
}

// Context is a user's workspace: the organizations they can act in and the
// one currently selected.
type Context struct {
	userID     string
	defaultOrg string
	store      Store
	members    MembershipLister
}

// NewContext creates a workspace for userID. defaultOrg is used until the
// user selects another organization, typically the org of their token.
func NewContext(userID, defaultOrg string, store Store, members MembershipLister) *Context {
	return &Context{userID: userID, defaultOrg: defaultOrg, store: store, members: members}
}

// Organizations returns the user's memberships ordered by organization ID
func (c *Context) Organizations() ([]storage.Membership, error) {
	ms, err := c.members.ListMemberships(c.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].OrgID < ms[j].OrgID })
	return ms, nil
}

// CurrentOrg returns the selected organization. A stored selection the
// user no longer belongs to falls back to the default.
func (c *Context) CurrentOrg() (string, error) {
	selected, ok, err := c.store.Get(CurrentOrgKey)
	if err != nil {
		return "", fmt.Errorf("failed to read workspace: %w", err)
	}
	if !ok || selected == c.defaultOrg {
		return c.defaultOrg, nil
	}

	member, err := c.isMember(selected)
	if err != nil {
		return "", err
	}
	if !member {
		return c.defaultOrg, nil
	}
	return selected, nil
}

// SelectOrg makes orgID the current organization
func (c *Context) SelectOrg(orgID string) error {
	if orgID == "" {
		return fmt.Errorf("%w: empty organization id", ErrNotMember)
	}
	if orgID != c.defaultOrg {
		member, err := c.isMember(orgID)
		if err != nil {
			return err
		}
		if !member {
			return fmt.Errorf("%w %q", ErrNotMember, orgID)
		}
	}
	if err := c.store.Set(CurrentOrgKey, orgID); err != nil {
		return fmt.Errorf("failed to save workspace: %w", err)
	}
	return nil
}

func (c *Context) isMember(orgID string) (bool, error) {
	ms, err := c.members.ListMemberships(c.userID)
	if err != nil {
		return false, fmt.Errorf("failed to list memberships: %w", err)
	}
	for _, m := range ms {
		if m.OrgID == orgID {
			return true, nil
		}
	}
	return false, nil
}
