package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/domain"
	"github.com/DevRickLin/feishu-chatflow/internal/biz/repo"
)

// HistoryUsecase recalls recent session history for the pipeline
type HistoryUsecase struct {
	messageRepo repo.MessageRepo
	modelRepo   repo.ModelRepo
	prompts     PromptConfig
	config      ChatflowConfig
	now         func() time.Time
	logger      *zap.Logger
}

// NewHistoryUsecase creates a new history usecase
func NewHistoryUsecase(
	messageRepo repo.MessageRepo,
	modelRepo repo.ModelRepo,
	prompts PromptConfig,
	config ChatflowConfig,
	logger *zap.Logger,
) *HistoryUsecase {
	return &HistoryUsecase{
		messageRepo: messageRepo,
		modelRepo:   modelRepo,
		prompts:     prompts,
		config:      config,
		now:         time.Now,
		logger:      logger.Named("history"),
	}
}

// Recall returns the history text for a batch: eligible text messages of the
// session within the window, excluding the batch itself, one line each.
// Text longer than the compress threshold is summarized by the helper model.
func (uc *HistoryUsecase) Recall(ctx context.Context, batch domain.Batch) (string, error) {
	if len(batch) == 0 {
		return "", nil
	}

	since := uc.now().Add(-uc.config.HistoryWindow)
	recent, err := uc.messageRepo.ListRecent(ctx, batch.SessionKey(), since)
	if err != nil {
		return "", fmt.Errorf("list recent: %w", err)
	}

	inBatch := make(map[string]struct{}, len(batch))
	for _, id := range batch.IDs() {
		inBatch[id] = struct{}{}
	}

	var lines []string
	for _, m := range recent {
		if _, ok := inBatch[m.ID]; ok || !m.IsText() {
			continue
		}
		lines = append(lines, m.HistoryLine())
	}
	histories := strings.Join(lines, "\n")

	if utf8.RuneCountInString(histories) <= uc.config.CompressThreshold {
		return histories, nil
	}

	prompt := render(uc.prompts.CompressPrompt, map[string]string{
		"user":      batch[0].From,
		"histories": histories,
	})
	compressed, err := consider(ctx, uc.modelRepo, uc.config.ConsiderModel, prompt)
	if err != nil {
		return "", fmt.Errorf("compress history: %w", err)
	}

	uc.logger.Debug("history compressed",
		zap.String("session", batch.SessionKey()),
		zap.Int("lines", len(lines)),
		zap.Int("chars", utf8.RuneCountInString(compressed)))
	return compressed, nil
}

// consider sends a single user prompt to the helper model and returns its answer
func consider(ctx context.Context, model repo.ModelRepo, modelName, prompt string) (string, error) {
	result, err := model.Complete(ctx, []domain.ChatMessage{
		{Role: domain.RoleUser, Content: prompt},
	}, domain.ModelOptions{Model: modelName})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Text), nil
}
