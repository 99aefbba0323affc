package profile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTier(t *testing.T) {
	tests := []struct {
		in      string
		want    Tier
		wantErr bool
	}{
		{"free", TierFree, false},
		{"free_user", TierFree, false},
		{"Premium", TierPremium, false},
		{"premium_user", TierPremium, false},
		{"gold", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTier(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFileDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
users:
  alice:
    email: alice@example.com
    name: Alice
    tier: free
  bob:
    email: bob@example.com
    tier: premium_user
  carol: {}
`), 0o644))

	d, err := NewFileDirectory(path)
	require.NoError(t, err)
	ctx := context.Background()

	alice, err := d.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", alice.UserID)
	assert.Equal(t, "alice@example.com", alice.Email)
	assert.True(t, alice.Free())

	bob, err := d.Lookup(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, bob.Premium())

	carol, err := d.Lookup(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, TierFree, carol.Tier)

	_, err = d.Lookup(ctx, "dave")
	assert.ErrorIs(t, err, ErrNotFound)

	// Upgrade alice; the directory notices the new modification time.
	require.NoError(t, os.WriteFile(path, []byte("users:\n  alice:\n    tier: premium\n"), 0o644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	alice, err = d.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, alice.Premium())
}

func TestFileDirectory_Errors(t *testing.T) {
	_, err := NewFileDirectory(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("users:\n  alice:\n    tier: gold\n"), 0o644))
	_, err = NewFileDirectory(path)
	require.Error(t, err)
}

func TestStatic(t *testing.T) {
	s := Static{"alice": {Email: "a@example.com", Tier: TierPremium}}
	p, err := s.Lookup(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.UserID)
	assert.True(t, p.Premium())

	_, err = s.Lookup(context.Background(), "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}
