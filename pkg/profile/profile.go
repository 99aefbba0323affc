// Package profile resolves job owners to their contact details and
// subscription tier.
package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Tier is a subscription tier.
type Tier string

const (
	TierFree    Tier = "free_user"
	TierPremium Tier = "premium_user"
)

// ParseTier accepts the canonical values and the short forms "free" and
// "premium".
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "free", string(TierFree):
		return TierFree, nil
	case "premium", string(TierPremium):
		return TierPremium, nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// UnmarshalYAML accepts any form ParseTier accepts.
func (t *Tier) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseTier(node.Value)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Profile describes a user.
type Profile struct {
	UserID string `yaml:"-"`
	Email  string `yaml:"email"`
	Name   string `yaml:"name"`
	Tier   Tier   `yaml:"tier"`
}

// Free reports whether the user is on the free tier.
func (p *Profile) Free() bool { return p.Tier == TierFree }

// Premium reports whether the user is on the premium tier.
func (p *Profile) Premium() bool { return p.Tier == TierPremium }

// ErrNotFound indicates an unknown user.
var ErrNotFound = errors.New("profile not found")

// Directory looks up user profiles. It is read-only.
type Directory interface {
	Lookup(ctx context.Context, userID string) (*Profile, error)
}

type fileFormat struct {
	Users map[string]*Profile `yaml:"users"`
}

// FileDirectory reads profiles from a YAML file:
//
//	users:
//	  alice:
//	    email: alice@example.com
//	    name: Alice
//	    tier: free
//
// The file is re-read when its modification time changes, so tier changes
// take effect without a restart.
type FileDirectory struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	users   map[string]*Profile
}

var _ Directory = (*FileDirectory)(nil)

// NewFileDirectory loads the profiles file.
func NewFileDirectory(path string) (*FileDirectory, error) {
	d := &FileDirectory{path: path}
	if err := d.reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Lookup returns the profile for userID, or ErrNotFound.
func (d *FileDirectory) Lookup(ctx context.Context, userID string) (*Profile, error) {
	if err := d.reload(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	cp := *p
	return &cp, nil
}

func (d *FileDirectory) reload() error {
	st, err := os.Stat(d.path)
	if err != nil {
		return fmt.Errorf("profiles file: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.users != nil && st.ModTime().Equal(d.modTime) {
		return nil
	}

	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("profiles file: %w", err)
	}
	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return fmt.Errorf("parse profiles file %s: %w", d.path, err)
	}
	users := make(map[string]*Profile, len(ff.Users))
	for id, p := range ff.Users {
		if p == nil {
			p = &Profile{}
		}
		p.UserID = id
		if p.Tier == "" {
			p.Tier = TierFree
		}
		users[id] = p
	}
	d.users = users
	d.modTime = st.ModTime()
	return nil
}

// Static is an in-memory Directory.
type Static map[string]*Profile

var _ Directory = Static(nil)

// Lookup returns the profile for userID, or ErrNotFound.
func (s Static) Lookup(_ context.Context, userID string) (*Profile, error) {
	p, ok := s[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	cp := *p
	cp.UserID = userID
	return &cp, nil
}
