package network

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"avatarsync.dev/client/entity"
	"avatarsync.dev/client/participant"
)

// Factory creates the participant of a player seen for the first time.
type Factory func(player *entity.Player) *participant.Participant

// HubOptions configures a Hub.
type HubOptions struct {
	// Session identifies the local player among the players sent by the server.
	Session string
	Factory Factory
	// FrameRate is the number of frames per second the participants are ticked at.
	FrameRate float64
	// TickRate is the expected number of player updates per second.
	TickRate float64
	// Spacing separates the participants along the x axis.
	Spacing float64
	Logger  logr.Logger
}

type slot struct {
	participant *participant.Participant
	index       int
}

// Hub maintains the set of participants and drives their frames.
type Hub struct {
	opts   HubOptions
	logger logr.Logger

	// Participants by player id. Only touched by Run.
	participants map[int]*slot

	// Number of participants created so far, used for their offsets.
	joined int

	localID   int
	haveLocal bool

	// Inbound events from the server.
	events chan Event
}

// NewHub creates a new Hub.
func NewHub(opts HubOptions) *Hub {
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = 90
	}
	return &Hub{
		opts:         opts,
		logger:       opts.Logger,
		participants: make(map[int]*slot),
		events:       make(chan Event, 64),
	}
}

// Dispatch queues an event for the hub.
func (h *Hub) Dispatch(ctx context.Context, e Event) error {
	select {
	case h.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run serves the hub until ctx is done. All participants are destroyed on
// return.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / h.opts.FrameRate))
	defer func() {
		ticker.Stop()
		h.clear()
	}()

	last := time.Now()
	for {
		select {
		case e := <-h.events:
			h.handle(e)
		case now := <-ticker.C:
			h.tick(now.Sub(last).Seconds())
			last = now
		case <-ctx.Done():
			return nil
		}
	}
}

// handle executes instructions based on the event name
func (h *Hub) handle(e Event) {
	EventCounterTotal.WithLabelValues(e.Name).Inc()

	switch e.Name {
	case EventUpdate, EventSyncWorld:
		var data playersData
		if err := decode(e.Data, &data); err != nil {
			h.logger.Error(err, "unable to decode players", "event", e.Name)
			return
		}
		for _, p := range data.Players {
			h.apply(p)
		}
	case EventPlayerJoin:
		var data playerData
		if err := decode(e.Data, &data); err != nil {
			h.logger.Error(err, "unable to decode player", "event", e.Name)
			return
		}
		h.apply(data.Player)
	case EventPlayerQuit:
		var data playerData
		if err := decode(e.Data, &data); err != nil {
			h.logger.Error(err, "unable to decode player", "event", e.Name)
			return
		}
		if data.Player != nil {
			h.remove(data.Player.ID)
		}
	default:
		h.logger.V(1).Info("ignoring event", "event", e.Name)
	}
}

func (h *Hub) apply(player *entity.Player) {
	if player == nil {
		return
	}
	if h.opts.Session != "" && player.Session == h.opts.Session {
		h.localID, h.haveLocal = player.ID, true
	}

	s, ok := h.participants[player.ID]
	if !ok {
		s = &slot{participant: h.opts.Factory(player), index: h.joined}
		h.participants[player.ID] = s
		h.joined++
		ParticipantsGauge.Inc()
		h.logger.V(1).Info("player joined", "id", player.ID, "name", player.Name)
	}

	isLocal := h.haveLocal && player.ID == h.localID
	s.participant.SetPlayerState(player, float64(s.index)*h.opts.Spacing, isLocal)
}

func (h *Hub) remove(id int) {
	s, ok := h.participants[id]
	if !ok {
		return
	}
	s.participant.Destroy()
	delete(h.participants, id)
	ParticipantsGauge.Dec()
	h.logger.V(1).Info("player quit", "id", id)
}

func (h *Hub) tick(dt float64) {
	for _, s := range h.participants {
		s.participant.Tick(dt, h.opts.TickRate)
	}
}

func (h *Hub) clear() {
	for id := range h.participants {
		h.remove(id)
	}
}
