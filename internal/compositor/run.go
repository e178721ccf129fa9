package compositor

import (
	"context"
	"time"

	"github.com/banshee-data/spokeview/internal/nav"
	"github.com/banshee-data/spokeview/internal/source"
)

// DefaultRefreshInterval approximates a 60 Hz display.
const DefaultRefreshInterval = 16 * time.Millisecond

// Run feeds client events and ship states into the compositor and renders
// on every tick that finds a render pending. It returns when ctx is done.
// A nil ships channel is allowed. onRender, when set, is called after each
// render pass.
func (c *Compositor) Run(ctx context.Context, events <-chan source.Event, ships <-chan nav.ShipState, ticks <-chan time.Time, onRender func()) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.Handle(e)

		case s, ok := <-ships:
			if !ok {
				ships = nil
				continue
			}
			c.SetHeading(s.Heading)

		case <-ticks:
			if c.Tick() && onRender != nil {
				onRender()
			}
		}
	}
}

// Handle applies one client event.
func (c *Compositor) Handle(e source.Event) {
	switch e.Kind {
	case source.EventConfig:
		c.HandleConfig(e.Config)
	case source.EventSpoke:
		c.HandleSpoke(e.Spoke)
	case source.EventState:
		c.HandleState(e.State)
	}
}
