// Package orchestrator runs the per-request pipeline: classify intent,
// retrieve memory, run extensions, generate a response, then persist
// and learn from the turn.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sena-run/core/pkg/config"
	"github.com/sena-run/core/pkg/events"
	"github.com/sena-run/core/pkg/models"
	"github.com/sena-run/core/pkg/modelclient"
	"github.com/sena-run/core/pkg/registry"
	"github.com/sena-run/core/pkg/retrieval"
)

// ErrCancelled is returned when a request's context is cancelled
// mid-pipeline. No conversation row is written and the short-term
// buffer is not mutated.
var ErrCancelled = errors.New("orchestrator: request cancelled")

var sessionRefPattern = regexp.MustCompile(`(?i)session #(\d+)`)

// IntentClassifier resolves a user turn's intent. Satisfied by
// *intent.Router.
type IntentClassifier interface {
	Route(ctx context.Context, text string) (models.IntentResult, error)
}

// ShortTermStore is the per-session FIFO buffer dependency. Satisfied by
// *memory.ShortTermMemory.
type ShortTermStore interface {
	Add(ctx context.Context, sessionID, content string, role models.MessageRole, metadata map[string]any) (models.ShortTermItem, error)
	GetAll(ctx context.Context, sessionID string) ([]models.ShortTermItem, error)
}

// RetrievalPolicy decides whether and what to retrieve, and extracts and
// stores learnings. Satisfied by *retrieval.Engine.
type RetrievalPolicy interface {
	ShouldRetrieve(userInput string, intent models.IntentType) bool
	RetrieveRelevant(ctx context.Context, shortTerm []models.ShortTermItem, userInput string, k int, metadataFilter map[string]string) (retrieval.Relevant, error)
	StoreLearnings(ctx context.Context, lines []string, metadata map[string]any) error
}

// PersonalityProvider composes the personality block and records
// inferred facts. Satisfied by *personality.Manager.
//
// Explicit user-asked-to-remember facts do not go through here: they
// route to long-term memory (see detectExplicitRemember's call site
// in Process), not the personality store.
type PersonalityProvider interface {
	GetPersonalityBlock(ctx context.Context, forceRefresh bool) (string, error)
	InferFromConversation(ctx context.Context, text, source string) ([]models.PersonalityFragment, error)
}

// ModelSource resolves a slot's client and records its usage. Satisfied
// by *registry.Registry.
type ModelSource interface {
	GetClient(ctx context.Context, slot config.SlotName) (registry.Client, error)
	RecordUsage(slot config.SlotName, tokens int64, durationMs int64)
}

// ConversationStore persists completed turns. Satisfied by
// *storage.Store.
type ConversationStore interface {
	Insert(ctx context.Context, table string, columns map[string]any) (int64, error)
}

// Telemetry records orchestration metrics. Satisfied by
// *telemetry.Collector.
type Telemetry interface {
	RecordMetric(name string, value float64, tags map[string]string, kind models.MetricKind)
}

// Orchestrator wires every per-request dependency and runs the
// pipeline.
type Orchestrator struct {
	intent      IntentClassifier
	retrieval   RetrievalPolicy
	shortTerm   ShortTermStore
	personality PersonalityProvider
	models      ModelSource
	extensions  *ExtensionRegistry
	conv        ConversationStore
	telemetry   Telemetry
	publisher   events.Publisher

	longTermExtractInterval int

	pipelines *pipelineRing

	mu            sync.Mutex
	messageCounts map[string]int
}

// Deps bundles every dependency Process needs.
type Deps struct {
	Intent                  IntentClassifier
	Retrieval               RetrievalPolicy
	ShortTerm               ShortTermStore
	Personality             PersonalityProvider
	Models                  ModelSource
	Extensions              *ExtensionRegistry
	Conversations           ConversationStore
	Telemetry               Telemetry
	Publisher               events.Publisher
	LongTermExtractInterval int
}

// New builds an Orchestrator from deps.
func New(deps Deps) *Orchestrator {
	interval := deps.LongTermExtractInterval
	if interval <= 0 {
		interval = 10
	}
	return &Orchestrator{
		intent:                  deps.Intent,
		retrieval:               deps.Retrieval,
		shortTerm:               deps.ShortTerm,
		personality:             deps.Personality,
		models:                  deps.Models,
		extensions:              deps.Extensions,
		conv:                    deps.Conversations,
		telemetry:               deps.Telemetry,
		publisher:               deps.Publisher,
		longTermExtractInterval: interval,
		pipelines:               newPipelineRing(),
		messageCounts:           make(map[string]int),
	}
}

// TokenCallback receives each streamed content fragment, ahead of it
// being yielded to the ultimate caller.
type TokenCallback func(content string, isFinal bool)

// Process runs the full pipeline for one user turn.
func (o *Orchestrator) Process(ctx context.Context, sessionID, userInput string, stream bool, onToken TokenCallback) (models.Conversation, error) {
	requestID := uuid.New().String()
	pipeline := models.NewPipeline(requestID, sessionID)
	o.pipelines.add(pipeline)

	intentResult, err := o.runIntentStage(ctx, pipeline, userInput)
	if err != nil {
		return models.Conversation{}, err
	}

	if content, ok := detectExplicitRemember(userInput); ok && o.retrieval != nil {
		if err := o.retrieval.StoreLearnings(ctx, []string{content}, map[string]any{"session_id": sessionID, "origin": "explicit_remember"}); err != nil {
			o.publishStage(pipeline, models.StageMemory, models.StageError, err.Error())
		}
	}

	messages, err := o.runMemoryStage(ctx, pipeline, sessionID, userInput, intentResult)
	if err != nil {
		return models.Conversation{}, err
	}

	extensionMessage := o.runExtensionStage(ctx, pipeline, sessionID, userInput, intentResult)
	if extensionMessage != "" {
		messages = append(messages, models.Message{Role: models.RoleSystem, Content: extensionMessage, Timestamp: time.Now().UTC()})
	}

	messages = append(messages, models.Message{Role: models.RoleUser, Content: userInput, Timestamp: time.Now().UTC()})

	response, slot, err := o.runGenerationStage(ctx, pipeline, intentResult, messages, stream, onToken)
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			o.markStage(pipeline, models.StageLLM, models.StageError, "cancelled")
			pipeline.Error = "cancelled"
			return models.Conversation{}, ErrCancelled
		}
		o.markStage(pipeline, models.StageLLM, models.StageError, err.Error())
		return models.Conversation{}, fmt.Errorf("generation stage: %w", err)
	}

	conversation := o.postProcess(ctx, pipeline, sessionID, userInput, response, slot, intentResult)

	pipeline.FinishedAt = time.Now().UTC()
	o.markStage(pipeline, models.StagePost, models.StageCompleted, "")

	if o.telemetry != nil {
		durationMs := float64(pipeline.FinishedAt.Sub(pipeline.StartedAt).Milliseconds())
		o.telemetry.RecordMetric("request.duration_ms", durationMs, map[string]string{"intent": string(intentResult.Type)}, models.MetricHistogram)
		o.telemetry.RecordMetric(fmt.Sprintf("model.%s.requests", slot), 1, nil, models.MetricCounter)
		o.telemetry.RecordMetric("requests.total", 1, nil, models.MetricCounter)
	}

	return conversation, nil
}

func (o *Orchestrator) runIntentStage(ctx context.Context, pipeline *models.Pipeline, userInput string) (models.IntentResult, error) {
	o.markStage(pipeline, models.StageIntent, models.StageActive, "")
	result, err := o.intent.Route(ctx, userInput)
	if err != nil {
		o.markStage(pipeline, models.StageIntent, models.StageError, err.Error())
		return models.IntentResult{}, fmt.Errorf("intent stage: %w", err)
	}
	o.markStage(pipeline, models.StageIntent, models.StageCompleted, "")
	return result, nil
}

func (o *Orchestrator) runMemoryStage(ctx context.Context, pipeline *models.Pipeline, sessionID, userInput string, intentResult models.IntentResult) ([]models.Message, error) {
	if !intentResult.NeedsMemory || !o.retrieval.ShouldRetrieve(userInput, intentResult.Type) {
		o.markStage(pipeline, models.StageMemory, models.StageSkipped, "")
		return nil, nil
	}

	o.markStage(pipeline, models.StageMemory, models.StageActive, "")

	shortTermItems, err := o.shortTerm.GetAll(ctx, sessionID)
	if err != nil {
		o.markStage(pipeline, models.StageMemory, models.StageError, err.Error())
		return nil, nil
	}

	messages := make([]models.Message, 0, len(shortTermItems)+1)
	for _, item := range shortTermItems {
		messages = append(messages, models.Message{Role: item.Role, Content: item.Content, Timestamp: item.CreatedAt})
	}

	var filter map[string]string
	var sessionRef string
	if m := sessionRefPattern.FindStringSubmatch(userInput); m != nil {
		sessionRef = "session-" + m[1]
		filter = map[string]string{"session_id": sessionRef}
	}

	relevant, err := o.retrieval.RetrieveRelevant(ctx, shortTermItems, userInput, 5, filter)
	if err != nil {
		o.markStage(pipeline, models.StageMemory, models.StageError, err.Error())
		return messages, nil
	}

	if len(relevant.LongTerm) > 0 {
		var b strings.Builder
		b.WriteString("Relevant memories")
		if sessionRef != "" {
			b.WriteString(" from ")
			b.WriteString(sessionRef)
		}
		b.WriteString(":\n")
		for i, mem := range relevant.LongTerm {
			fmt.Fprintf(&b, "%d. %s\n", i+1, mem.Content)
		}
		messages = append(messages, models.Message{Role: models.RoleSystem, Content: strings.TrimRight(b.String(), "\n"), Timestamp: time.Now().UTC()})
	}

	o.markStage(pipeline, models.StageMemory, models.StageCompleted, "")
	return messages, nil
}

func (o *Orchestrator) runExtensionStage(ctx context.Context, pipeline *models.Pipeline, sessionID, userInput string, intentResult models.IntentResult) string {
	if len(intentResult.RequiredExtensions) == 0 || o.extensions == nil {
		o.markStage(pipeline, models.StageExtension, models.StageSkipped, "")
		return ""
	}

	o.markStage(pipeline, models.StageExtension, models.StageActive, "")

	outcomes := make([]extensionOutcome, len(intentResult.RequiredExtensions))
	group, gctx := errgroup.WithContext(ctx)
	for i, name := range intentResult.RequiredExtensions {
		i, name := i, name
		group.Go(func() error {
			ext, ok := o.extensions.Resolve(name)
			if !ok {
				outcomes[i] = extensionOutcome{Name: name, Status: "error", Err: fmt.Errorf("extension %q not found or disabled", name)}
				return nil
			}
			output, err := ext.Execute(gctx, userInput, sessionID)
			if err != nil {
				outcomes[i] = extensionOutcome{Name: name, Status: "error", Err: err}
				return nil
			}
			outcomes[i] = extensionOutcome{Name: name, Output: output, Status: "success"}
			return nil
		})
	}
	_ = group.Wait()

	var anyFailed bool
	var b strings.Builder
	b.WriteString("Extension results:\n")
	found := false
	for _, outcome := range outcomes {
		if outcome.Status == "success" {
			fmt.Fprintf(&b, "- %s: %s\n", outcome.Name, outcome.Output)
			found = true
		} else {
			anyFailed = true
		}
	}

	if anyFailed {
		o.markStage(pipeline, models.StageExtension, models.StageError, "one or more extensions failed")
	} else {
		o.markStage(pipeline, models.StageExtension, models.StageCompleted, "")
	}

	if !found {
		return ""
	}
	return strings.TrimRight(b.String(), "\n")
}

func (o *Orchestrator) runGenerationStage(ctx context.Context, pipeline *models.Pipeline, intentResult models.IntentResult, contextMessages []models.Message, stream bool, onToken TokenCallback) (modelclient.Response, config.SlotName, error) {
	slot := config.SlotName(intentResult.RecommendedModel)
	if slot == "" {
		slot = config.SlotFast
	}

	o.markStage(pipeline, models.StageLLM, models.StageActive, fmt.Sprintf("using %s model", slot))

	client, err := o.models.GetClient(ctx, slot)
	if err != nil {
		return modelclient.Response{}, slot, fmt.Errorf("acquiring %s client: %w", slot, err)
	}

	personalityBlock := ""
	if o.personality != nil {
		personalityBlock, _ = o.personality.GetPersonalityBlock(ctx, false)
	}
	systemPrompt := basePrompt("default") + capabilitiesBlock(intentResult.RequiredExtensions) + "\n\n" + personalityBlock

	messages := make([]models.Message, 0, len(contextMessages)+1)
	messages = append(messages, models.Message{Role: models.RoleSystem, Content: systemPrompt, Timestamp: time.Now().UTC()})
	messages = append(messages, contextMessages...)

	started := time.Now()

	var response modelclient.Response
	if stream {
		chunks, errCh := client.Stream(ctx, messages, modelclient.Overrides{})
		var content strings.Builder
		for {
			select {
			case <-ctx.Done():
				return modelclient.Response{}, slot, ErrCancelled
			case chunk, ok := <-chunks:
				if !ok {
					chunks = nil
					continue
				}
				if onToken != nil {
					onToken(chunk.Content, chunk.IsFinal)
				}
				content.WriteString(chunk.Content)
				if o.publisher != nil {
					o.publisher.Publish(events.KindTokenEmitted, events.TokenEmitted{Content: chunk.Content, IsFinal: chunk.IsFinal, Timestamp: time.Now().UTC()})
				}
				if chunk.IsFinal {
					if chunk.Usage != nil {
						response = *chunk.Usage
					}
					response.Content = content.String()
					response.Duration = time.Since(started)
					chunks = nil
				}
			case streamErr, ok := <-errCh:
				if ok && streamErr != nil {
					return modelclient.Response{}, slot, streamErr
				}
				errCh = nil
			}
			if chunks == nil && errCh == nil {
				break
			}
		}
	} else {
		var err error
		response, err = client.Generate(ctx, messages, modelclient.Overrides{})
		if err != nil {
			return modelclient.Response{}, slot, err
		}
	}

	o.models.RecordUsage(slot, int64(response.PromptTokens+response.CompletionTokens), time.Since(started).Milliseconds())
	o.markStage(pipeline, models.StageLLM, models.StageCompleted, "")
	return response, slot, nil
}

func (o *Orchestrator) postProcess(ctx context.Context, pipeline *models.Pipeline, sessionID, userInput string, response modelclient.Response, slot config.SlotName, intentResult models.IntentResult) models.Conversation {
	o.markStage(pipeline, models.StagePost, models.StageActive, "")

	conversation := models.Conversation{
		SessionID:      sessionID,
		UserInput:      userInput,
		AssistantReply: response.Content,
		ModelUsed:      response.Model,
		DurationMs:     response.Duration.Milliseconds(),
		Intent:         string(intentResult.Type),
		CreatedAt:      time.Now().UTC(),
	}

	if o.conv != nil {
		if _, err := o.conv.Insert(ctx, "conversations", map[string]any{
			"session_id":      conversation.SessionID,
			"user_input":      conversation.UserInput,
			"assistant_reply": conversation.AssistantReply,
			"model_used":      string(slot),
			"duration_ms":     conversation.DurationMs,
			"intent":          conversation.Intent,
			"created_at":      conversation.CreatedAt,
		}); err != nil {
			o.markStage(pipeline, models.StagePost, models.StageError, err.Error())
		}
	}

	if o.shortTerm != nil {
		_, _ = o.shortTerm.Add(ctx, sessionID, userInput, models.RoleUser, nil)
		_, _ = o.shortTerm.Add(ctx, sessionID, response.Content, models.RoleAssistant, nil)
	}

	count := o.incrementMessageCount(sessionID)
	if count%o.longTermExtractInterval == 0 {
		turnText := fmt.Sprintf("USER: %s\nASSISTANT: %s", userInput, response.Content)
		if o.retrieval != nil {
			lines := retrieval.ExtractLearnings(turnText)
			if len(lines) > 0 {
				_ = o.retrieval.StoreLearnings(ctx, lines, map[string]any{"session_id": sessionID, "origin": "auto_extraction"})
			}
		}
		if o.personality != nil {
			_, _ = o.personality.InferFromConversation(ctx, turnText, "conversation")
		}
	}

	return conversation
}

func (o *Orchestrator) incrementMessageCount(sessionID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messageCounts[sessionID]++
	return o.messageCounts[sessionID]
}

func (o *Orchestrator) markStage(pipeline *models.Pipeline, stage models.Stage, status models.StageStatus, detail string) {
	pipeline.CurrentStage = stage
	state, ok := pipeline.Stages[stage]
	if !ok {
		state = &models.StageState{Stage: stage}
		pipeline.Stages[stage] = state
	}
	state.Status = status
	if status == models.StageActive && state.StartedAt.IsZero() {
		state.StartedAt = time.Now().UTC()
	}
	if status == models.StageCompleted || status == models.StageError || status == models.StageSkipped {
		state.FinishedAt = time.Now().UTC()
	}
	if status == models.StageError {
		state.Error = detail
	}
	o.publishStage(pipeline, stage, status, detail)
}

func (o *Orchestrator) publishStage(pipeline *models.Pipeline, stage models.Stage, status models.StageStatus, detail string) {
	if o.publisher == nil {
		return
	}
	o.publisher.Publish(events.KindStageChanged, events.StageChanged{
		RequestID: pipeline.RequestID,
		Stage:     stage,
		Status:    status,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

// Pipeline returns the tracked pipeline for requestID, if still
// retained.
func (o *Orchestrator) Pipeline(requestID string) (*models.Pipeline, bool) {
	return o.pipelines.get(requestID)
}

// RecentPipelines returns up to limit of the most recently started
// pipelines, newest first.
func (o *Orchestrator) RecentPipelines(limit int) []*models.Pipeline {
	return o.pipelines.recent(limit)
}

func basePrompt(mode string) string {
	return "You are a helpful local assistant. Answer directly and honestly, and use the context provided below when relevant."
}

func capabilitiesBlock(extensionNames []string) string {
	if len(extensionNames) == 0 {
		return ""
	}
	return "\n\nAvailable capabilities: " + strings.Join(extensionNames, ", ")
}
