// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

// -- LLM Client Mocks --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockVisionClient mocks the schemas.VisionClient interface.
type MockVisionClient struct {
	mock.Mock
}

func (m *MockVisionClient) GenerateTurn(ctx context.Context, req schemas.VisionRequest) (*schemas.Turn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	turn, _ := args.Get(0).(*schemas.Turn)
	return turn, args.Error(1)
}

func (m *MockVisionClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// -- Store Mock --

// MockStore mocks the schemas.Store interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateSession(ctx context.Context, session *schemas.AgentSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockStore) UpdateSession(ctx context.Context, session *schemas.AgentSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockStore) GetSession(ctx context.Context, id string) (*schemas.AgentSession, error) {
	args := m.Called(ctx, id)
	session, _ := args.Get(0).(*schemas.AgentSession)
	return session, args.Error(1)
}

func (m *MockStore) SaveTasks(ctx context.Context, sessionID string, tasks []schemas.AgentTask) error {
	args := m.Called(ctx, sessionID, tasks)
	return args.Error(0)
}

func (m *MockStore) AppendLog(ctx context.Context, sessionID string, entry schemas.LogEntry) error {
	args := m.Called(ctx, sessionID, entry)
	return args.Error(0)
}

func (m *MockStore) SaveScreenshot(ctx context.Context, shot *schemas.AgentScreenshot) error {
	args := m.Called(ctx, shot)
	return args.Error(0)
}

func (m *MockStore) Close() {
	m.Called()
}

// -- Vision Script --

// ScriptedVisionClient replays a fixed sequence of model turns and records every request.
// Once the script is exhausted it answers with a plain completion text.
type ScriptedVisionClient struct {
	mu       sync.Mutex
	turns    []*schemas.Turn
	requests []schemas.VisionRequest
}

// NewScriptedVisionClient creates a client that returns turns in order.
func NewScriptedVisionClient(turns ...*schemas.Turn) *ScriptedVisionClient {
	return &ScriptedVisionClient{turns: turns}
}

func (s *ScriptedVisionClient) GenerateTurn(ctx context.Context, req schemas.VisionRequest) (*schemas.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.turns) == 0 {
		return &schemas.Turn{Role: schemas.RoleModel, Parts: []schemas.Part{{Text: "Done."}}}, nil
	}
	next := s.turns[0]
	s.turns = s.turns[1:]
	return next, nil
}

func (s *ScriptedVisionClient) Close() error { return nil }

// Requests returns a copy of the requests received so far.
func (s *ScriptedVisionClient) Requests() []schemas.VisionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schemas.VisionRequest(nil), s.requests...)
}

var (
	_ schemas.LLMClient    = (*MockLLMClient)(nil)
	_ schemas.VisionClient = (*MockVisionClient)(nil)
	_ schemas.VisionClient = (*ScriptedVisionClient)(nil)
	_ schemas.Store        = (*MockStore)(nil)
)
