package agent

import (
	"strings"
	"testing"

	"github.com/entrhq/browseruse/pkg/llm"
)

func TestConversationKeepsEverythingWithinBudget(t *testing.T) {
	c := newConversation(nil, 1000)
	c.Add(llm.AssistantMessage("navigate"))
	c.Add(llm.UserMessage("Action navigate result: ok"))

	all := c.GetAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(all))
	}
}

func TestConversationDropsOldestOverBudget(t *testing.T) {
	c := newConversation(nil, 60)
	long := strings.Repeat("x", 80)
	for i := 0; i < 6; i++ {
		c.Add(llm.UserMessage(long))
	}

	if c.Len() >= 6 {
		t.Fatalf("expected messages to be dropped, still have %d", c.Len())
	}
	if c.Len() < 2 {
		t.Errorf("the latest exchange should be kept, have %d", c.Len())
	}
	all := c.GetAll()
	if !strings.Contains(all[0].Content, "earlier messages omitted") {
		t.Errorf("expected an omission marker, got %q", all[0].Content)
	}
	if c.omitted+c.Len() != 6 {
		t.Errorf("omitted (%d) + kept (%d) should be 6", c.omitted, c.Len())
	}
}

func TestConversationUnbounded(t *testing.T) {
	c := newConversation(nil, 0)
	for i := 0; i < 50; i++ {
		c.Add(llm.UserMessage(strings.Repeat("y", 1000)))
	}
	if c.Len() != 50 {
		t.Errorf("expected all 50 messages with no budget, got %d", c.Len())
	}
}
