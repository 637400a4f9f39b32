package subscription

import (
	"context"
	"testing"
)

func TestStaticTierLookup(t *testing.T) {
	lookup := StaticTierLookup{
		"user-pro":  TierPro,
		"user-free": TierFree,
		"user-bad":  Tier("enterprise"),
	}
	ctx := context.Background()

	testCases := []struct {
		name   string
		userID string
		want   Tier
	}{
		{"pro user", "user-pro", TierPro},
		{"free user", "user-free", TierFree},
		{"unknown user defaults to free", "user-missing", TierFree},
		{"unknown tier value defaults to free", "user-bad", TierFree},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := lookup.TierOf(ctx, tc.userID); got != tc.want {
				t.Errorf("TierOf(%q) = %q, want %q", tc.userID, got, tc.want)
			}
		})
	}
}

func TestTierValid(t *testing.T) {
	if !TierFree.Valid() || !TierPro.Valid() {
		t.Error("known tiers should be valid")
	}
	if Tier("enterprise").Valid() {
		t.Error("unknown tier should be invalid")
	}
}
