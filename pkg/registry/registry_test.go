package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sena-run/core/pkg/config"
	"github.com/sena-run/core/pkg/modelclient"
	"github.com/sena-run/core/pkg/models"
)

type fakeClient struct {
	mu        sync.Mutex
	state     modelclient.State
	loadCalls int
	healthy   bool
	unloaded  bool
	loadErr   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{state: modelclient.StateUnloaded, healthy: true}
}

func (f *fakeClient) Load(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadCalls++
	if f.loadErr != nil {
		return f.loadErr
	}
	f.state = modelclient.StateLoaded
	return nil
}

func (f *fakeClient) Generate(ctx context.Context, messages []models.Message, overrides modelclient.Overrides) (modelclient.Response, error) {
	return modelclient.Response{Content: "fake response"}, nil
}

func (f *fakeClient) Stream(ctx context.Context, messages []models.Message, overrides modelclient.Overrides) (<-chan modelclient.Chunk, <-chan error) {
	chunks := make(chan modelclient.Chunk, 1)
	errs := make(chan error, 1)
	chunks <- modelclient.Chunk{Content: "fake", IsFinal: true}
	close(chunks)
	close(errs)
	return chunks, errs
}

func (f *fakeClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

func (f *fakeClient) HealthCheck(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeClient) Unload() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloaded = true
	f.state = modelclient.StateUnloaded
	return nil
}

func (f *fakeClient) State() modelclient.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func testConfig() config.LLMConfig {
	return config.LLMConfig{
		Models: map[config.SlotName]config.ModelSlotConfig{
			config.SlotFast:     {Name: "llama3:8b"},
			config.SlotCritical: {Name: "llama3:70b"},
		},
	}
}

func TestInitialize_SharesFastAndRouterIdentity(t *testing.T) {
	r := New(func(slotCfg config.ModelSlotConfig) Client { return newFakeClient() })

	require.NoError(t, r.Initialize(context.Background(), testConfig()))

	fastInfo, err := r.info(config.SlotFast)
	require.NoError(t, err)
	routerInfo, err := r.info(config.SlotRouter)
	require.NoError(t, err)
	assert.Same(t, fastInfo, routerInfo, "router slot must share Info identity with fast slot")
}

func TestInitialize_MissingFastSlotSkipsRouter(t *testing.T) {
	r := New(func(slotCfg config.ModelSlotConfig) Client { return newFakeClient() })
	cfg := config.LLMConfig{Models: map[config.SlotName]config.ModelSlotConfig{
		config.SlotCritical: {Name: "llama3:70b"},
	}}

	require.NoError(t, r.Initialize(context.Background(), cfg))

	_, err := r.info(config.SlotRouter)
	assert.ErrorIs(t, err, ErrUnknownSlot)
}

func TestGetClient_DeduplicatesConcurrentLoads(t *testing.T) {
	r := New(func(slotCfg config.ModelSlotConfig) Client { return newFakeClient() })
	require.NoError(t, r.Initialize(context.Background(), testConfig()))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.GetClient(context.Background(), config.SlotCritical)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	info, err := r.info(config.SlotCritical)
	require.NoError(t, err)
	fc := info.Client.(*fakeClient)
	assert.Equal(t, 1, fc.loadCalls)
}

func TestSwitchTo_UpdatesActiveSlot(t *testing.T) {
	r := New(func(slotCfg config.ModelSlotConfig) Client { return newFakeClient() })
	require.NoError(t, r.Initialize(context.Background(), testConfig()))

	_, err := r.SwitchTo(context.Background(), config.SlotCritical)
	require.NoError(t, err)

	slot, switchedAt := r.ActiveSlot()
	assert.Equal(t, config.SlotCritical, slot)
	assert.False(t, switchedAt.IsZero())
}

func TestRecordUsage_And_Stats(t *testing.T) {
	r := New(func(slotCfg config.ModelSlotConfig) Client { return newFakeClient() })
	require.NoError(t, r.Initialize(context.Background(), testConfig()))

	r.RecordUsage(config.SlotFast, 100, 50)
	r.RecordUsage(config.SlotFast, 200, 150)

	stats := r.Stats()[config.SlotFast]
	assert.Equal(t, int64(2), stats.UseCount)
	assert.Equal(t, int64(300), stats.TotalTokens)
	assert.Equal(t, 100.0, stats.AvgDurationMs)
}

func TestHealthCheck_DedupesByClientIdentity(t *testing.T) {
	shared := newFakeClient()
	shared.healthy = true

	info := &Info{Slot: config.SlotFast, Client: shared}
	r := &Registry{slots: map[config.SlotName]*Info{
		config.SlotFast:   info,
		config.SlotRouter: info,
	}}

	result := r.HealthCheck(context.Background())
	assert.True(t, result[config.SlotFast])
	assert.True(t, result[config.SlotRouter])
}

func TestShutdown_UnloadsEachUniqueClientOnce(t *testing.T) {
	shared := newFakeClient()
	info := &Info{Slot: config.SlotFast, Client: shared}
	r := &Registry{slots: map[config.SlotName]*Info{
		config.SlotFast:   info,
		config.SlotRouter: info,
	}}

	r.Shutdown()
	assert.True(t, shared.unloaded)
}
