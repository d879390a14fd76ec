package chat

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/feichai0017/legal-rag/internal/llm"
	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/pkg/logger"
	"github.com/feichai0017/legal-rag/pkg/retry"
)

var (
	leadingNonLetters = regexp.MustCompile(`^[^a-zA-Z]+`)
	afterQuestionMark = regexp.MustCompile(`\?.*`)
)

// cleanQuestion drops list markers before the question and anything after
// its first question mark.
func cleanQuestion(line string) string {
	line = leadingNonLetters.ReplaceAllString(line, "")
	line = afterQuestionMark.ReplaceAllString(line, "?")
	return strings.TrimSpace(line)
}

// parseQuestions splits a newline separated model answer into questions.
func parseQuestions(answer string) []string {
	out := []string{}
	for _, line := range strings.Split(answer, "\n") {
		if q := cleanQuestion(line); q != "" {
			out = append(out, q)
		}
	}
	return out
}

// SuggestedQuestions asks the model for follow up questions based on the
// last few turns of the user's conversation.
func (s *Service) SuggestedQuestions(ctx context.Context, user *models.User) ([]string, error) {
	history, err := s.History(ctx, user)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf(suggestionTemplate, transcript(lastN(history, s.config.SuggestionWindow)))
	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt}}

	cfg := s.admin.Snapshot().ModelConfig()
	primary := s.models.Primary(cfg)
	var answer string
	err = retry.Do(ctx, s.backoff, models.IsRateLimit, func(int) error {
		var err error
		answer, err = primary.Complete(ctx, messages)
		return err
	})
	if models.IsRateLimit(err) {
		s.logger.Warn("Suggested questions rate limited, falling back", logger.String("user", user.Email))
		answer, err = s.models.Secondary(cfg).Complete(ctx, messages)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate suggested questions: %w", err)
	}
	return parseQuestions(answer), nil
}
