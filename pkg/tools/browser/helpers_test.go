package browser

import (
	"context"
	"testing"

	browsercore "github.com/entrhq/browseruse/pkg/browser"
	"github.com/entrhq/browseruse/pkg/browser/browsertest"
	"github.com/entrhq/browseruse/pkg/config"
	"github.com/entrhq/browseruse/pkg/llm"
	"github.com/entrhq/browseruse/pkg/logging"
	"github.com/stretchr/testify/require"
)

type harness struct {
	session  *browsercore.Session
	conn     *browsertest.Connection
	page     *browsertest.Page
	registry *Registry
	actx     *ActionContext
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	page := browsertest.NewPage("https://shop.example.com/")
	conn := browsertest.NewConnection(page)
	session := browsercore.NewSession(config.Default().Browser, browsertest.NewDriver(conn),
		browsercore.WithLogger(logging.Nop()), browsercore.WithID("actions"))
	require.NoError(t, session.Start(context.Background()))
	t.Cleanup(func() { _ = session.Kill(context.Background()) })

	return &harness{
		session:  session,
		conn:     conn,
		page:     page,
		registry: NewDefaultRegistry(WithLogger(logging.Nop())),
		actx:     &ActionContext{Session: session, AgentID: "agent-1"},
	}
}

func (h *harness) run(t *testing.T, name string, params map[string]any) (*ActionResult, error) {
	t.Helper()
	return h.registry.ExecuteAction(context.Background(), name, params, h.actx)
}

type stubLLM struct {
	reply    string
	err      error
	messages []llm.Message
}

func (s *stubLLM) Invoke(_ context.Context, messages []llm.Message, _ *llm.OutputFormat) (*llm.Completion, error) {
	s.messages = messages
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Completion{Content: s.reply}, nil
}

func (s *stubLLM) Model() string { return "stub" }

type memFS map[string][]byte

func (m memFS) ReadFile(name string) ([]byte, error) {
	data, ok := m[name]
	if !ok {
		return nil, errNoFileSystem
	}
	return data, nil
}

func (m memFS) WriteFile(name string, data []byte) error {
	m[name] = data
	return nil
}
