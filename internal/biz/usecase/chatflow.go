package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/domain"
	"github.com/DevRickLin/feishu-chatflow/internal/biz/repo"
)

// ErrEmptyBatch is returned when a batch holds no loadable messages
var ErrEmptyBatch = errors.New("empty batch")

// ChatflowUsecase turns one drained batch into one model reply
type ChatflowUsecase struct {
	messageRepo    repo.MessageRepo
	completionRepo repo.CompletionRepo
	modelRepo      repo.ModelRepo
	history        *HistoryUsecase
	search         *SearchUsecase
	replies        *ReplyUsecase
	prompts        PromptConfig
	config         ChatflowConfig
	now            func() time.Time
	logger         *zap.Logger
}

// NewChatflowUsecase creates a new chatflow usecase
func NewChatflowUsecase(
	messageRepo repo.MessageRepo,
	completionRepo repo.CompletionRepo,
	modelRepo repo.ModelRepo,
	history *HistoryUsecase,
	search *SearchUsecase,
	replies *ReplyUsecase,
	prompts PromptConfig,
	config ChatflowConfig,
	logger *zap.Logger,
) *ChatflowUsecase {
	return &ChatflowUsecase{
		messageRepo:    messageRepo,
		completionRepo: completionRepo,
		modelRepo:      modelRepo,
		history:        history,
		search:         search,
		replies:        replies,
		prompts:        prompts,
		config:         config,
		now:            time.Now,
		logger:         logger.Named("chatflow"),
	}
}

// Run processes the batch with the given message ids.
// It loads the messages, recalls history, builds the model input (with a web
// search for text batches that need one), calls the model once, records the
// completion and enqueues the reply.
func (uc *ChatflowUsecase) Run(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return ErrEmptyBatch
	}
	msgs, err := uc.messageRepo.ListByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load batch: %w", err)
	}
	if len(msgs) == 0 {
		return ErrEmptyBatch
	}

	batch := domain.Batch(msgs)
	first := batch[0]
	sessionKey := batch.SessionKey()
	log := uc.logger.With(zap.String("session", sessionKey), zap.Strings("batch", ids))

	histories, err := uc.history.Recall(ctx, batch)
	if err != nil {
		return err
	}

	var user domain.ChatMessage
	if batch.AllText() {
		user, err = uc.textInput(ctx, batch, histories, log)
		if err != nil {
			return err
		}
	} else {
		user = uc.mixedInput(batch)
	}

	if !user.IsMultiPart() && strings.TrimSpace(user.Content) == "" {
		log.Info("nothing to answer in batch")
		return nil
	}

	request := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: render(uc.prompts.SystemPrompt, map[string]string{"histories": histories})},
		user,
	}

	beginAt := uc.now()
	result, err := uc.modelRepo.Complete(ctx, request, domain.ModelOptions{
		Model:       uc.config.ChatModel,
		Temperature: uc.config.Temperature,
	})
	if err != nil {
		return fmt.Errorf("chat completion: %w", err)
	}
	endAt := uc.now()

	completion := domain.NewCompletion(request, result, beginAt, endAt, first.From)
	if err := uc.completionRepo.Save(ctx, completion); err != nil {
		return fmt.Errorf("save completion: %w", err)
	}

	if _, err := uc.replies.Send(ctx, sessionKey, first.To, first.From, result.Text); err != nil {
		return err
	}

	log.Info("batch answered",
		zap.Int("messages", len(batch)),
		zap.Duration("model_time", completion.Duration()),
		zap.Int("prompt_tokens", completion.PromptTokens),
		zap.Int("completion_tokens", completion.CompletionTokens))
	return nil
}

// textInput builds the user message for an all-text batch, searching the web
// when the helper model says the question needs it
func (uc *ChatflowUsecase) textInput(ctx context.Context, batch domain.Batch, histories string, log *zap.Logger) (domain.ChatMessage, error) {
	question := domain.JoinContent(batch)

	rewritten, err := uc.search.Rewrite(ctx, histories, question)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	log.Debug("question rewritten", zap.String("question", rewritten))

	need, err := uc.search.NeedsSearch(ctx, rewritten)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	if !need {
		return domain.ChatMessage{Role: domain.RoleUser, Content: question}, nil
	}

	result, err := uc.search.Search(ctx, question)
	if err != nil {
		return domain.ChatMessage{}, err
	}

	if links := result.TopLinks(uc.config.SearchLinkLimit); len(links) > 0 {
		first := batch[0]
		text := uc.prompts.LinksIntro + "\n" + strings.Join(links, "\n")
		if _, err := uc.replies.Send(ctx, batch.SessionKey(), first.To, first.From, text); err != nil {
			return domain.ChatMessage{}, err
		}
	}

	content := render(uc.prompts.SearchContextPrompt, map[string]string{
		"net_content": strings.Join(result.TopContexts(uc.config.SearchContextLimit), "\n"),
		"question":    rewritten,
	})
	return domain.ChatMessage{Role: domain.RoleUser, Content: content}, nil
}

// mixedInput builds the user message for a batch with links, pictures or videos.
// Link text is numbered into the reference template; each picture becomes an
// image part after one text part. Videos are ignored.
func (uc *ChatflowUsecase) mixedInput(batch domain.Batch) domain.ChatMessage {
	question := domain.JoinContent(batch.OfType(domain.MessageTypeText))
	content := question

	if links := batch.OfType(domain.MessageTypeLink); len(links) > 0 {
		var net strings.Builder
		for i, l := range links {
			if i > 0 {
				net.WriteString("\n")
			}
			fmt.Fprintf(&net, "%d. %s", i+1, l.ExtraText())
		}
		q := question
		if q == "" {
			q = uc.prompts.LinkDefaultPrompt
		}
		content = render(uc.prompts.SearchContextPrompt, map[string]string{
			"net_content": net.String(),
			"question":    q,
		})
	}

	var images []domain.ContentPart
	for _, p := range batch.OfType(domain.MessageTypePic) {
		if !p.HasExtraBytes() {
			continue
		}
		images = append(images, domain.ContentPart{
			Type:     domain.PartTypeImageURL,
			ImageURL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(p.Extra.Bytes),
		})
	}
	if len(images) == 0 {
		return domain.ChatMessage{Role: domain.RoleUser, Content: content}
	}

	text := content
	if text == "" {
		text = uc.prompts.PicDefaultPrompt
	}
	parts := append([]domain.ContentPart{{Type: domain.PartTypeText, Text: text}}, images...)
	return domain.ChatMessage{Role: domain.RoleUser, Parts: parts}
}
