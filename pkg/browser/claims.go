package browser

import (
	"context"

	"github.com/entrhq/browseruse/pkg/events"
)

// ClaimAgent registers agentID as a user of the session.
//
// An exclusive claim succeeds only when no other agent holds the session.
// A shared claim succeeds when the session is unclaimed, already shared,
// or held exclusively by agentID itself, which converts it to shared.
// Claiming again with the current mode is a no-op that reports true.
func (s *Session) ClaimAgent(agentID string, mode ClaimMode) bool {
	if agentID == "" || (mode != ClaimExclusive && mode != ClaimShared) {
		return false
	}

	s.mu.Lock()
	current, held := s.claims[agentID]
	others := len(s.claims)
	if held {
		others--
	}

	ok := false
	switch mode {
	case ClaimExclusive:
		ok = others == 0
	case ClaimShared:
		ok = others == 0 || s.sharedLocked(agentID)
	}
	if !ok {
		s.mu.Unlock()
		s.logger.Debugf("Agent %s denied %s claim on session %s (%d other claimant(s))", agentID, mode, s.id, others)
		return false
	}

	s.claims[agentID] = mode
	s.mu.Unlock()

	if held && current == mode {
		return true
	}
	s.logger.Infof("Agent %s claimed session %s (%s)", agentID, s.id, mode)
	s.emit(context.Background(), events.New(events.AgentClaimedEvent{AgentID: agentID, Mode: string(mode)}))
	return true
}

// sharedLocked reports whether every claimant other than agentID holds a
// shared claim.
func (s *Session) sharedLocked(agentID string) bool {
	for id, m := range s.claims {
		if id != agentID && m != ClaimShared {
			return false
		}
	}
	return true
}

// ReleaseAgent removes agentID's claim. Releasing an agent that holds no
// claim fails while others remain and is a no-op on an unclaimed session.
// When the last shared claimant leaves and auto-stop is enabled the
// session stops.
func (s *Session) ReleaseAgent(agentID string) bool {
	s.mu.Lock()
	mode, held := s.claims[agentID]
	if !held {
		remaining := len(s.claims)
		s.mu.Unlock()
		return remaining == 0
	}
	delete(s.claims, agentID)
	delete(s.agentFocus, agentID)
	delete(s.states, agentID)
	remaining := len(s.claims)
	s.mu.Unlock()

	s.logger.Infof("Agent %s released session %s (%d claimant(s) left)", agentID, s.id, remaining)
	ctx := context.Background()
	s.emit(ctx, events.New(events.AgentReleasedEvent{AgentID: agentID, Mode: string(mode)}))

	if remaining == 0 && mode == ClaimShared && s.autoStop && s.IsConnected() {
		if err := s.Stop(ctx); err != nil {
			s.logger.Debugf("Auto-stop of session %s skipped: %v", s.id, err)
		}
	}
	return true
}

// Claims returns a copy of the claim registry.
func (s *Session) Claims() map[string]ClaimMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ClaimMode, len(s.claims))
	for id, m := range s.claims {
		out[id] = m
	}
	return out
}

// IsClaimed reports whether any agent holds the session.
func (s *Session) IsClaimed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.claims) > 0
}
