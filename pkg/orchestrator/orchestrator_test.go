package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sena-run/core/pkg/config"
	"github.com/sena-run/core/pkg/events"
	"github.com/sena-run/core/pkg/models"
	"github.com/sena-run/core/pkg/modelclient"
	"github.com/sena-run/core/pkg/registry"
	"github.com/sena-run/core/pkg/retrieval"
)

type fakeIntent struct {
	result models.IntentResult
	err    error
}

func (f *fakeIntent) Route(ctx context.Context, text string) (models.IntentResult, error) {
	return f.result, f.err
}

type fakeShortTerm struct {
	items  []models.ShortTermItem
	added  []models.Message
	getErr error
}

func (f *fakeShortTerm) Add(ctx context.Context, sessionID, content string, role models.MessageRole, metadata map[string]any) (models.ShortTermItem, error) {
	f.added = append(f.added, models.Message{Role: role, Content: content})
	return models.ShortTermItem{SessionID: sessionID, Role: role, Content: content}, nil
}

func (f *fakeShortTerm) GetAll(ctx context.Context, sessionID string) ([]models.ShortTermItem, error) {
	return f.items, f.getErr
}

type fakeRetrieval struct {
	shouldRetrieve bool
	relevant       retrieval.Relevant
	relevantErr    error
	storedLines    []string
	storedMeta     map[string]any
}

func (f *fakeRetrieval) ShouldRetrieve(userInput string, intent models.IntentType) bool {
	return f.shouldRetrieve
}

func (f *fakeRetrieval) RetrieveRelevant(ctx context.Context, shortTerm []models.ShortTermItem, userInput string, k int, metadataFilter map[string]string) (retrieval.Relevant, error) {
	return f.relevant, f.relevantErr
}

func (f *fakeRetrieval) StoreLearnings(ctx context.Context, lines []string, metadata map[string]any) error {
	f.storedLines = append(f.storedLines, lines...)
	f.storedMeta = metadata
	return nil
}

type fakePersonality struct {
	block         string
	explicitCalls []string
	inferCalls    []string
}

func (f *fakePersonality) GetPersonalityBlock(ctx context.Context, forceRefresh bool) (string, error) {
	return f.block, nil
}

func (f *fakePersonality) StoreExplicit(ctx context.Context, content, category, source string, metadata map[string]any) (models.PersonalityFragment, error) {
	f.explicitCalls = append(f.explicitCalls, content)
	return models.PersonalityFragment{Content: content}, nil
}

func (f *fakePersonality) InferFromConversation(ctx context.Context, text, source string) ([]models.PersonalityFragment, error) {
	f.inferCalls = append(f.inferCalls, text)
	return nil, nil
}

type fakeClient struct {
	response modelclient.Response
	genErr   error
	chunks   []modelclient.Chunk
	block    bool
}

func (f *fakeClient) Load(ctx context.Context) error { return nil }

func (f *fakeClient) Generate(ctx context.Context, messages []models.Message, overrides modelclient.Overrides) (modelclient.Response, error) {
	return f.response, f.genErr
}

func (f *fakeClient) Stream(ctx context.Context, messages []models.Message, overrides modelclient.Overrides) (<-chan modelclient.Chunk, <-chan error) {
	chunks := make(chan modelclient.Chunk, len(f.chunks)+1)
	errs := make(chan error, 1)
	if f.block {
		return chunks, errs
	}
	for _, c := range f.chunks {
		chunks <- c
	}
	close(chunks)
	close(errs)
	return chunks, errs
}

func (f *fakeClient) Embed(ctx context.Context, text string) ([]float32, error) { return nil, nil }
func (f *fakeClient) HealthCheck(ctx context.Context) bool                      { return true }
func (f *fakeClient) Unload() error                                             { return nil }
func (f *fakeClient) State() modelclient.State                                 { return modelclient.StateLoaded }

type fakeModels struct {
	client     registry.Client
	getErr     error
	usageSlot  config.SlotName
	usageCalls int
}

func (f *fakeModels) GetClient(ctx context.Context, slot config.SlotName) (registry.Client, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.client, nil
}

func (f *fakeModels) RecordUsage(slot config.SlotName, tokens int64, durationMs int64) {
	f.usageSlot = slot
	f.usageCalls++
}

type fakeConv struct {
	inserted  []map[string]any
	insertErr error
}

func (f *fakeConv) Insert(ctx context.Context, table string, columns map[string]any) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.inserted = append(f.inserted, columns)
	return int64(len(f.inserted)), nil
}

type fakeTelemetry struct {
	metrics []string
}

func (f *fakeTelemetry) RecordMetric(name string, value float64, tags map[string]string, kind models.MetricKind) {
	f.metrics = append(f.metrics, name)
}

type fakePublisher struct {
	events []events.StageChanged
}

func (f *fakePublisher) Publish(channel events.Kind, payload any) {
	if sc, ok := payload.(events.StageChanged); ok {
		f.events = append(f.events, sc)
	}
}

type fakeExtension struct {
	output string
	err    error
}

func (f *fakeExtension) Execute(ctx context.Context, input, sessionID string) (string, error) {
	return f.output, f.err
}

func baseDeps() (Deps, *fakeIntent, *fakeShortTerm, *fakeRetrieval, *fakePersonality, *fakeModels, *fakeConv, *fakeTelemetry, *fakePublisher) {
	intent := &fakeIntent{result: models.IntentResult{Type: models.IntentQuestion, RecommendedModel: "fast"}}
	shortTerm := &fakeShortTerm{}
	retr := &fakeRetrieval{}
	pers := &fakePersonality{}
	mdl := &fakeModels{client: &fakeClient{response: modelclient.Response{Content: "hello there", Model: "fast"}}}
	conv := &fakeConv{}
	tel := &fakeTelemetry{}
	pub := &fakePublisher{}

	deps := Deps{
		Intent:                  intent,
		Retrieval:               retr,
		ShortTerm:               shortTerm,
		Personality:             pers,
		Models:                  mdl,
		Extensions:              NewExtensionRegistry(),
		Conversations:           conv,
		Telemetry:               tel,
		Publisher:               pub,
		LongTermExtractInterval: 10,
	}
	return deps, intent, shortTerm, retr, pers, mdl, conv, tel, pub
}

func TestProcess_HappyPath_NonStreaming(t *testing.T) {
	deps, _, shortTerm, _, _, _, conv, tel, _ := baseDeps()
	orch := New(deps)

	conversation, err := orch.Process(context.Background(), "session-1", "what's the weather", false, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello there", conversation.AssistantReply)
	assert.Len(t, conv.inserted, 1)
	assert.Len(t, shortTerm.added, 2)
	assert.Contains(t, tel.metrics, "requests.total")
}

func TestProcess_MemoryStage_AppendsRelevantMemories(t *testing.T) {
	deps, intent, _, retr, _, _, _, _, _ := baseDeps()
	intent.result.NeedsMemory = true
	retr.shouldRetrieve = true
	retr.relevant = retrieval.Relevant{LongTerm: []models.LongTermMemory{{Content: "likes espresso"}}}

	var captured []models.Message
	deps.Models = &fakeModels{client: &capturingClient{capture: &captured, response: modelclient.Response{Content: "ok"}}}

	orch := New(deps)
	_, err := orch.Process(context.Background(), "session-1", "what do I usually drink", false, nil)
	require.NoError(t, err)

	found := false
	for _, m := range captured {
		if m.Role == models.RoleSystem && strings.Contains(m.Content, "Relevant memories") && strings.Contains(m.Content, "likes espresso") {
			found = true
		}
	}
	assert.True(t, found, "expected a system message listing relevant memories")
}

func TestProcess_ExtensionStage_RunsAndAppendsResults(t *testing.T) {
	deps, intent, _, _, _, _, _, _, _ := baseDeps()
	intent.result.RequiredExtensions = []string{"calculator"}
	deps.Extensions.Register("calculator", &fakeExtension{output: "42"})

	var captured []models.Message
	deps.Models = &fakeModels{client: &capturingClient{capture: &captured, response: modelclient.Response{Content: "ok"}}}

	orch := New(deps)
	_, err := orch.Process(context.Background(), "session-1", "what is 6*7", false, nil)
	require.NoError(t, err)

	found := false
	for _, m := range captured {
		if m.Role == models.RoleSystem && strings.Contains(m.Content, "calculator: 42") {
			found = true
		}
	}
	assert.True(t, found, "expected extension output in context messages")
}

func TestProcess_ExplicitRemember_StoresFact(t *testing.T) {
	deps, _, _, retr, pers, _, _, _, _ := baseDeps()
	orch := New(deps)

	_, err := orch.Process(context.Background(), "session-1", "remember this: I prefer dark mode", false, nil)
	require.NoError(t, err)
	require.Len(t, retr.storedLines, 1)
	assert.Equal(t, "I prefer dark mode", retr.storedLines[0])
	assert.Empty(t, pers.explicitCalls)
}

func TestProcess_IntentError_ReturnsEarlyWithoutPersisting(t *testing.T) {
	deps, intent, _, _, _, _, conv, _, _ := baseDeps()
	intent.err = errors.New("classification backend down")

	orch := New(deps)
	_, err := orch.Process(context.Background(), "session-1", "hi", false, nil)
	require.Error(t, err)
	assert.Empty(t, conv.inserted)
}

func TestProcess_StreamingCancellation_NoPersistence(t *testing.T) {
	deps, _, shortTerm, _, _, _, conv, _, _ := baseDeps()
	deps.Models = &fakeModels{client: &fakeClient{block: true}}

	orch := New(deps)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := orch.Process(ctx, "session-1", "tell me a story", true, nil)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, conv.inserted)
	assert.Empty(t, shortTerm.added)
}

func TestProcess_StreamingHappyPath_AccumulatesChunks(t *testing.T) {
	deps, _, _, _, _, _, _, _, _ := baseDeps()
	deps.Models = &fakeModels{client: &fakeClient{chunks: []modelclient.Chunk{
		{Content: "Hello"},
		{Content: ", world", IsFinal: true, Usage: &modelclient.Response{Model: "fast", PromptTokens: 5, CompletionTokens: 2}},
	}}}

	var tokens []string
	orch := New(deps)
	conversation, err := orch.Process(context.Background(), "session-1", "say hello", true, func(content string, isFinal bool) {
		tokens = append(tokens, content)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", conversation.AssistantReply)
	assert.Equal(t, []string{"Hello", ", world"}, tokens)
}

func TestProcess_LongTermExtractInterval_TriggersLearning(t *testing.T) {
	deps, _, _, retr, pers, _, _, _, _ := baseDeps()
	deps.LongTermExtractInterval = 1
	deps.Models = &fakeModels{client: &fakeClient{response: modelclient.Response{Content: "Learning: user prefers tea."}}}

	orch := New(deps)
	_, err := orch.Process(context.Background(), "session-1", "what should I drink", false, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, retr.storedLines)
	assert.Equal(t, "session-1", retr.storedMeta["session_id"])
	assert.Len(t, pers.inferCalls, 1)
}

func TestProcess_EmitsStageChangedEvents(t *testing.T) {
	deps, _, _, _, _, _, _, _, pub := baseDeps()
	orch := New(deps)

	_, err := orch.Process(context.Background(), "session-1", "hi", false, nil)
	require.NoError(t, err)

	var stages []models.Stage
	for _, e := range pub.events {
		stages = append(stages, e.Stage)
	}
	assert.Contains(t, stages, models.StageIntent)
	assert.Contains(t, stages, models.StageLLM)
	assert.Contains(t, stages, models.StagePost)
}

func TestPipeline_RecentAndGet(t *testing.T) {
	deps, _, _, _, _, _, _, _, _ := baseDeps()
	orch := New(deps)

	_, err := orch.Process(context.Background(), "session-1", "hi", false, nil)
	require.NoError(t, err)

	recent := orch.RecentPipelines(5)
	require.Len(t, recent, 1)
	pipeline, ok := orch.Pipeline(recent[0].RequestID)
	require.True(t, ok)
	assert.Equal(t, models.StagePost, pipeline.CurrentStage)
}

// capturingClient records every message list it was asked to generate
// from, for assertions on the composed context.
type capturingClient struct {
	capture  *[]models.Message
	response modelclient.Response
}

func (c *capturingClient) Load(ctx context.Context) error { return nil }

func (c *capturingClient) Generate(ctx context.Context, messages []models.Message, overrides modelclient.Overrides) (modelclient.Response, error) {
	*c.capture = messages
	return c.response, nil
}

func (c *capturingClient) Stream(ctx context.Context, messages []models.Message, overrides modelclient.Overrides) (<-chan modelclient.Chunk, <-chan error) {
	*c.capture = messages
	chunks := make(chan modelclient.Chunk, 1)
	errs := make(chan error, 1)
	chunks <- modelclient.Chunk{Content: c.response.Content, IsFinal: true, Usage: &c.response}
	close(chunks)
	close(errs)
	return chunks, errs
}

func (c *capturingClient) Embed(ctx context.Context, text string) ([]float32, error) { return nil, nil }
func (c *capturingClient) HealthCheck(ctx context.Context) bool                      { return true }
func (c *capturingClient) Unload() error                                            { return nil }
func (c *capturingClient) State() modelclient.State                                 { return modelclient.StateLoaded }

