package responder

import "context"

// MockClient is a test double for Client.
type MockClient struct {
	AnswerFunc    func(ctx context.Context, req AnswerRequest) (*Answer, error)
	SummarizeFunc func(ctx context.Context, req SummaryRequest) (string, error)
}

func (m *MockClient) Name() string { return "mock" }

func (m *MockClient) GenerateAnswer(ctx context.Context, req AnswerRequest) (*Answer, error) {
	if m.AnswerFunc != nil {
		return m.AnswerFunc(ctx, req)
	}
	return &Answer{Answer: "mock answer"}, nil
}

func (m *MockClient) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	if m.SummarizeFunc != nil {
		return m.SummarizeFunc(ctx, req)
	}
	return "mock summary", nil
}
