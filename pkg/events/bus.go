package events

// Publisher is the narrow interface orchestrator components depend on,
// satisfied by *Bus. Kept separate from *Fanout so publishers never see
// subscription management.
type Publisher interface {
	Publish(channel Kind, payload any)
}

// Bus is the typed event bus stage/token callbacks were reified into —
// Publish replaces the ad hoc stageCallback/tokenCallback function
// values a callback-chain design would otherwise thread through every
// blocking call.
type Bus struct {
	fanout *Fanout
}

// NewBus wraps fanout as a Bus.
func NewBus(fanout *Fanout) *Bus {
	return &Bus{fanout: fanout}
}

// Publish broadcasts payload to every subscriber of channel.
func (b *Bus) Publish(channel Kind, payload any) {
	b.fanout.Broadcast(channel, payload)
}
