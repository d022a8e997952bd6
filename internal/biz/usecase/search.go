package usecase

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/domain"
	"github.com/DevRickLin/feishu-chatflow/internal/biz/repo"
)

// SearchUsecase decides whether a question needs the web and runs the search
type SearchUsecase struct {
	modelRepo  repo.ModelRepo
	searchRepo repo.SearchRepo
	prompts    PromptConfig
	config     ChatflowConfig
	logger     *zap.Logger
}

// NewSearchUsecase creates a new search usecase
func NewSearchUsecase(
	modelRepo repo.ModelRepo,
	searchRepo repo.SearchRepo,
	prompts PromptConfig,
	config ChatflowConfig,
	logger *zap.Logger,
) *SearchUsecase {
	return &SearchUsecase{
		modelRepo:  modelRepo,
		searchRepo: searchRepo,
		prompts:    prompts,
		config:     config,
		logger:     logger.Named("search"),
	}
}

// Rewrite turns question into a self-contained one using the history
func (uc *SearchUsecase) Rewrite(ctx context.Context, histories, question string) (string, error) {
	prompt := render(uc.prompts.RewritePrompt, map[string]string{
		"histories": histories,
		"content":   question,
	})
	rewritten, err := consider(ctx, uc.modelRepo, uc.config.ConsiderModel, prompt)
	if err != nil {
		return "", fmt.Errorf("rewrite question: %w", err)
	}
	if rewritten == "" {
		return question, nil
	}
	return rewritten, nil
}

// NeedsSearch asks the helper model whether question needs a web search
func (uc *SearchUsecase) NeedsSearch(ctx context.Context, question string) (bool, error) {
	if uc.searchRepo == nil {
		return false, nil
	}

	prompt := render(uc.prompts.SearchDecisionPrompt, map[string]string{"content": question})
	answer, err := consider(ctx, uc.modelRepo, uc.config.ConsiderModel, prompt)
	if err != nil {
		return false, fmt.Errorf("search decision: %w", err)
	}

	positive := strings.ToUpper(strings.TrimSpace(uc.prompts.SearchPositiveAnswer))
	need := positive != "" && strings.HasPrefix(strings.ToUpper(answer), positive)
	uc.logger.Debug("search decision", zap.String("answer", answer), zap.Bool("search", need))
	return need, nil
}

// Search runs the web search
func (uc *SearchUsecase) Search(ctx context.Context, question string) (*domain.SearchResult, error) {
	result, err := uc.searchRepo.Search(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	uc.logger.Info("web search",
		zap.String("intent", result.Intent),
		zap.Int("contexts", len(result.Contexts)))
	return result, nil
}
