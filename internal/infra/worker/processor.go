package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"socratic-ai-service/internal/domain"
	"socratic-ai-service/internal/domain/model"
	"socratic-ai-service/internal/domain/ports/adapter"
	"socratic-ai-service/internal/domain/ports/repository"
	"socratic-ai-service/internal/infra/metrics"
	"socratic-ai-service/internal/infra/stream"
)

// historyWindow caps how many stored messages go into the prompt.
const historyWindow = 15

// Processor runs one chat job start to finish:
//
//	Dequeued -> ContextLoaded -> PromptBuilt -> ProviderCallInFlight ->
//	ResultPersisted -> Completed
//
// with Failed reachable from every step. Progress is reported through the
// broadcaster as the job advances; on failure an `error` event is emitted
// before the error is returned, so the queue's retry machinery stays in
// charge of all retry timing.
type Processor struct {
	contexts repository.ContextStore
	messages repository.MessageStore
	usage    repository.UsageLog
	secrets  repository.SecretsResolver
	gateway  adapter.ProviderGateway
	events   *stream.Broadcaster
	allowed  map[string]struct{}
	log      *zerolog.Logger
}

func NewProcessor(
	contexts repository.ContextStore,
	messages repository.MessageStore,
	usage repository.UsageLog,
	secrets repository.SecretsResolver,
	gateway adapter.ProviderGateway,
	events *stream.Broadcaster,
	allowedModels []string,
	log *zerolog.Logger,
) *Processor {
	allowed := make(map[string]struct{}, len(allowedModels))
	for _, m := range allowedModels {
		allowed[m] = struct{}{}
	}
	return &Processor{
		contexts: contexts,
		messages: messages,
		usage:    usage,
		secrets:  secrets,
		gateway:  gateway,
		events:   events,
		allowed:  allowed,
		log:      log,
	}
}

// Process drives the state machine for one job. The returned error has
// already been broadcast as an `error` event when non-nil.
func (p *Processor) Process(ctx context.Context, job *model.ChatJob) (res *model.JobResult, err error) {
	defer func() {
		if err != nil {
			kind := domain.Classify(err)
			p.events.EmitToConversation(job.ConversationID, model.ErrorEvent{
				Code:      string(kind),
				Message:   err.Error(),
				Retriable: kind.Retriable(),
			})
		}
	}()

	p.events.EmitToConversation(job.ConversationID, model.ProcessingEvent{JobID: job.ID})
	p.log.Info().Str("job_id", job.ID).Str("conversation_id", job.ConversationID).Int("attempt", job.Attempts).Msg("processing chat job")

	cc, err := p.contexts.LoadContext(ctx, job.ConversationID, job.Technique)
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}

	p.events.EmitToConversation(job.ConversationID, model.ProgressEvent{JobID: job.ID, Status: "Building prompt..."})

	msgs := buildPrompt(cc, job.Message)

	// Curated models only, unless the caller brought their own key.
	if !job.UsedBYOK {
		if _, ok := p.allowed[job.Model]; !ok {
			return nil, fmt.Errorf("model %q: %w", job.Model, domain.ErrModelNotAllowed)
		}
	}

	apiKey, err := p.secrets.ResolveCredential(ctx, job.UserID, adapter.ProviderForModel(job.Model), job.UsedBYOK)
	if err != nil {
		return nil, fmt.Errorf("resolve credential: %w", err)
	}

	p.events.EmitToConversation(job.ConversationID, model.ProgressEvent{JobID: job.ID, Status: "AI is thinking..."})

	callStart := time.Now()
	comp, err := p.gateway.Send(ctx, msgs, job.Model, adapter.Credential{APIKey: apiKey, BYOK: job.UsedBYOK})
	latency := time.Since(callStart)

	if err != nil {
		metrics.ObserveChatUsage(adapter.ProviderForModel(job.Model), job.Model, 0, 0, 0, 0, int(latency/time.Millisecond), false)
		return nil, fmt.Errorf("provider call: %w", err)
	}
	metrics.ObserveChatUsage(
		adapter.ProviderForModel(job.Model), job.Model,
		comp.PromptTokens, comp.CompletionTokens, comp.TotalTokens,
		comp.CostMicro, int(latency/time.Millisecond), true,
	)

	userMsg := &model.ChatMessage{
		ConversationID: job.ConversationID,
		Role:           "user",
		Content:        job.Message,
		Timestamp:      time.Now(),
	}
	assistantMsg := &model.ChatMessage{
		ConversationID: job.ConversationID,
		Role:           "assistant",
		Content:        comp.Content,
		Tokens:         comp.CompletionTokens,
		Timestamp:      time.Now(),
	}
	appended, err := p.messages.AppendMessage(ctx, job.ConversationID, userMsg, assistantMsg, repository.AppendMeta{
		JobID:  job.ID,
		Model:  job.Model,
		Tokens: comp.TotalTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("persist exchange: %w", err)
	}

	// User message first, then the assistant reply, each with its store
	// sequence number.
	p.events.EmitToConversation(job.ConversationID, model.MessageEvent{
		Role:     "user",
		Content:  userMsg.Content,
		Sequence: appended.UserSequence,
	})
	p.events.EmitToConversation(job.ConversationID, model.MessageEvent{
		Role:     "assistant",
		Content:  assistantMsg.Content,
		Sequence: appended.AssistantSequence,
		Tokens:   comp.CompletionTokens,
	})

	if uerr := p.usage.Record(ctx, &model.UsageRecord{
		UserID:           job.UserID,
		ConversationID:   job.ConversationID,
		JobID:            job.ID,
		Model:            job.Model,
		PromptTokens:     comp.PromptTokens,
		CompletionTokens: comp.CompletionTokens,
		TotalTokens:      comp.TotalTokens,
		CostMicro:        comp.CostMicro,
		LatencyMS:        int64(latency / time.Millisecond),
		UsedBYOK:         job.UsedBYOK,
		CreatedAt:        time.Now(),
	}); uerr != nil {
		// Accounting must not fail the job.
		p.log.Error().Err(uerr).Str("job_id", job.ID).Msg("usage record failed")
	}

	result := &model.JobResult{
		MessageID: appended.AssistantMessageID,
		Tokens:    comp.TotalTokens,
		CostMicro: comp.CostMicro,
		LatencyMS: int64(latency / time.Millisecond),
	}

	p.events.EmitToConversation(job.ConversationID, model.CompleteEvent{
		JobID:     job.ID,
		Tokens:    result.Tokens,
		CostMicro: result.CostMicro,
		LatencyMS: result.LatencyMS,
	})

	return result, nil
}

// buildPrompt assembles the provider-agnostic message list: technique system
// prompt, recent history, then the new user message.
func buildPrompt(cc *model.ConversationContext, userMessage string) []adapter.Message {
	history := cc.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	msgs := make([]adapter.Message, 0, len(history)+2)
	if cc.SystemPrompt != "" {
		msgs = append(msgs, adapter.Message{Role: "system", Content: cc.SystemPrompt})
	}
	for _, m := range history {
		msgs = append(msgs, adapter.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, adapter.Message{Role: "user", Content: userMessage})
	return msgs
}
