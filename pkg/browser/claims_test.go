package browser_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/entrhq/browseruse/pkg/browser"
	"github.com/entrhq/browseruse/pkg/browser/browsertest"
	"github.com/entrhq/browseruse/pkg/config"
	"github.com/entrhq/browseruse/pkg/events"
	"github.com/entrhq/browseruse/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestExclusiveClaimHandOff(t *testing.T) {
	f := newFixture(t)
	s := f.session

	assert.True(t, s.ClaimAgent("agent-1", browser.ClaimExclusive))
	assert.False(t, s.ClaimAgent("agent-2", browser.ClaimExclusive))
	assert.True(t, s.ReleaseAgent("agent-1"))
	assert.True(t, s.ClaimAgent("agent-2", browser.ClaimExclusive))

	assert.Equal(t, map[string]browser.ClaimMode{"agent-2": browser.ClaimExclusive}, s.Claims())
	assert.Equal(t, 2, f.events.count(events.TypeAgentClaimed))
	assert.Equal(t, 1, f.events.count(events.TypeAgentReleased))
}

func TestExclusiveBlocksShared(t *testing.T) {
	s := newFixture(t).session

	require.True(t, s.ClaimAgent("agent-1", browser.ClaimExclusive))
	assert.False(t, s.ClaimAgent("agent-2", browser.ClaimShared))
	assert.True(t, s.ClaimAgent("agent-1", browser.ClaimExclusive), "re-claiming is a no-op")
}

func TestSharedClaims(t *testing.T) {
	s := newFixture(t).session

	require.True(t, s.ClaimAgent("agent-1", browser.ClaimShared))
	assert.True(t, s.ClaimAgent("agent-2", browser.ClaimShared))
	assert.False(t, s.ClaimAgent("agent-3", browser.ClaimExclusive))
	assert.False(t, s.ClaimAgent("agent-1", browser.ClaimExclusive), "cannot become exclusive while others share")
	assert.Len(t, s.Claims(), 2)
}

func TestExclusiveOwnerConvertsToShared(t *testing.T) {
	s := newFixture(t).session

	require.True(t, s.ClaimAgent("agent-1", browser.ClaimExclusive))
	require.True(t, s.ClaimAgent("agent-1", browser.ClaimShared))
	assert.True(t, s.ClaimAgent("agent-2", browser.ClaimShared))
	assert.Equal(t, browser.ClaimShared, s.Claims()["agent-1"])
}

func TestInvalidClaims(t *testing.T) {
	s := newFixture(t).session
	assert.False(t, s.ClaimAgent("", browser.ClaimExclusive))
	assert.False(t, s.ClaimAgent("agent-1", browser.ClaimMode("borrowed")))
	assert.False(t, s.IsClaimed())
}

func TestReleaseUnknownAgent(t *testing.T) {
	s := newFixture(t).session

	assert.True(t, s.ReleaseAgent("nobody"), "releasing an unclaimed session is a no-op")
	require.True(t, s.ClaimAgent("agent-1", browser.ClaimShared))
	assert.False(t, s.ReleaseAgent("nobody"))
	assert.True(t, s.IsClaimed())
}

func TestSharedSessionSurvivesPartialRelease(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	s := f.session

	require.True(t, s.ClaimAgent("agent-1", browser.ClaimShared))
	require.True(t, s.ClaimAgent("agent-2", browser.ClaimShared))

	require.True(t, s.ReleaseAgent("agent-1"))
	assert.True(t, s.IsClaimed())
	assert.True(t, s.IsConnected())
	assert.Zero(t, f.events.count(events.TypeBrowserStopped))

	require.True(t, s.ReleaseAgent("agent-2"))
	assert.False(t, s.IsClaimed())
	assert.False(t, s.IsConnected(), "last shared release stops the session")
	assert.Equal(t, 1, f.events.count(events.TypeBrowserStopped))
}

func TestSharedReleaseWithoutAutoStop(t *testing.T) {
	f := newFixture(t, browser.WithAutoStopOnRelease(false))
	f.start(t)
	s := f.session

	require.True(t, s.ClaimAgent("agent-1", browser.ClaimShared))
	require.True(t, s.ReleaseAgent("agent-1"))
	assert.False(t, s.IsClaimed())
	assert.True(t, s.IsConnected())
	require.NoError(t, s.Stop(context.Background()), "unclaimed session is eligible for stop")
}

func TestExclusiveReleaseKeepsConnection(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	require.True(t, f.session.ClaimAgent("agent-1", browser.ClaimExclusive))
	require.True(t, f.session.ReleaseAgent("agent-1"))
	assert.True(t, f.session.IsConnected())
}

func TestParseClaimMode(t *testing.T) {
	mode, err := browser.ParseClaimMode("shared")
	require.NoError(t, err)
	assert.Equal(t, browser.ClaimShared, mode)

	mode, err = browser.ParseClaimMode("")
	require.NoError(t, err)
	assert.Equal(t, browser.ClaimExclusive, mode)

	_, err = browser.ParseClaimMode("borrowed")
	assert.Error(t, err)
}

// TestClaimExclusivityProperty drives random claim/release sequences and
// checks that an exclusive holder always blocks every other agent.
func TestClaimExclusivityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := browser.NewSession(config.Default().Browser, browsertest.NewDriver(),
			browser.WithLogger(logging.Nop()), browser.WithAutoStopOnRelease(false))

		agents := []string{"a1", "a2", "a3"}
		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			agent := rapid.SampledFrom(agents).Draw(t, fmt.Sprintf("agent-%d", i))
			before := s.Claims()

			if rapid.Bool().Draw(t, fmt.Sprintf("release-%d", i)) {
				s.ReleaseAgent(agent)
				continue
			}

			mode := rapid.SampledFrom([]browser.ClaimMode{browser.ClaimExclusive, browser.ClaimShared}).
				Draw(t, fmt.Sprintf("mode-%d", i))
			ok := s.ClaimAgent(agent, mode)

			for holder, held := range before {
				if holder != agent && held == browser.ClaimExclusive && ok {
					t.Fatalf("%s claimed %s while %s held the session exclusively", agent, mode, holder)
				}
			}

			claims := s.Claims()
			exclusive := 0
			for _, m := range claims {
				if m == browser.ClaimExclusive {
					exclusive++
				}
			}
			if exclusive > 1 || (exclusive == 1 && len(claims) > 1) {
				t.Fatalf("invalid claim registry %v", claims)
			}
		}
	})
}
