package biz

import (
	"go.uber.org/zap"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/repo"
	"github.com/DevRickLin/feishu-chatflow/internal/biz/usecase"
)

// Usecases contains all usecases
type Usecases struct {
	Intake   *usecase.IntakeUsecase
	Chatflow *usecase.ChatflowUsecase
	Reply    *usecase.ReplyUsecase
	History  *usecase.HistoryUsecase
	Search   *usecase.SearchUsecase
}

// Repos are the collaborators the usecases are built on.
// Search may be nil to disable web search.
type Repos struct {
	Message    repo.MessageRepo
	Completion repo.CompletionRepo
	Attachment repo.AttachmentRepo
	Delivery   repo.DeliveryRepo
	Model      repo.ModelRepo
	Search     repo.SearchRepo
	Batches    repo.BatchQueue
	Replies    repo.ReplyQueue
}

// Config bundles the usecase settings
type Config struct {
	Prompts  usecase.PromptConfig
	Chatflow usecase.ChatflowConfig
	Intake   usecase.IntakeConfig
}

// NewUsecases wires the usecases together
func NewUsecases(r Repos, cfg Config, logger *zap.Logger) *Usecases {
	reply := usecase.NewReplyUsecase(r.Message, r.Delivery, r.Replies, logger)
	history := usecase.NewHistoryUsecase(r.Message, r.Model, cfg.Prompts, cfg.Chatflow, logger)
	search := usecase.NewSearchUsecase(r.Model, r.Search, cfg.Prompts, cfg.Chatflow, logger)

	return &Usecases{
		Intake:   usecase.NewIntakeUsecase(r.Message, r.Attachment, r.Batches, reply, cfg.Prompts, cfg.Intake, logger),
		Chatflow: usecase.NewChatflowUsecase(r.Message, r.Completion, r.Model, history, search, reply, cfg.Prompts, cfg.Chatflow, logger),
		Reply:    reply,
		History:  history,
		Search:   search,
	}
}
