package network

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avatarsync.dev/client/avatar"
	"avatarsync.dev/client/entity"
	"avatarsync.dev/client/participant"
	"avatarsync.dev/client/util"
)

type recBody struct {
	mu        sync.Mutex
	destroyed bool
}

func (b *recBody) SetRenderersEnabled(bool) {}

func (b *recBody) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.destroyed = true
}

func (b *recBody) isDestroyed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyed
}

type recHost struct {
	mu           sync.Mutex
	body         *recBody
	labelVisible bool
	labelText    string
	position     mgl64.Vec3
}

func (h *recHost) Spawn(*avatar.Avatar) (participant.Body, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.body = &recBody{}
	return h.body, nil
}

func (h *recHost) SetLabel(visible bool, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.labelVisible, h.labelText = visible, text
}

func (h *recHost) SetPosition(p mgl64.Vec3) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.position = p
}

func (h *recHost) currentBody() *recBody {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.body
}

func (h *recHost) label() (bool, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.labelVisible, h.labelText
}

// unavailable resolves every hash to nothing.
type unavailable struct{}

func (unavailable) Resolve(string, avatar.Waiter) (*avatar.Avatar, bool) { return nil, true }

type hosts struct {
	mu    sync.Mutex
	byID  map[int]*recHost
	count int
}

func (hs *hosts) factory(p *entity.Player) *participant.Participant {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	h := &recHost{}
	hs.byID[p.ID] = h
	hs.count++
	return participant.New(participant.Options{
		Host:    h,
		Cache:   unavailable{},
		Default: avatar.NewAvatar("loading", "loading.avatar"),
	})
}

func (hs *hosts) get(id int) *recHost {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.byID[id]
}

func (hs *hosts) created() int {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.count
}

func newTestHub() (*Hub, *hosts) {
	hs := &hosts{byID: map[int]*recHost{}}
	return NewHub(HubOptions{
		Session:  "me",
		Factory:  hs.factory,
		TickRate: 10,
		Spacing:  2,
	}), hs
}

// wire returns v as it looks after a round trip through the websocket.
func wire(t *testing.T, v any) any {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var out any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func testPlayer(id int, name, session string, x float64) *entity.Player {
	pr := util.PosRot{Position: util.Vector3{X: x}, Rotation: util.Quaternion{W: 1}}
	return &entity.Player{ID: id, Name: name, Session: session, Head: pr, LeftHand: pr, RightHand: pr}
}

func TestHub_UpdateCreatesParticipants(t *testing.T) {
	h, hs := newTestHub()

	h.handle(Event{Name: EventUpdate, Data: wire(t, playersData{Players: []*entity.Player{
		testPlayer(1, "me", "me", 1),
		testPlayer(2, "bob", "", 1),
	}})})

	require.Len(t, h.participants, 2)
	assert.Equal(t, 0, h.participants[1].index)
	assert.Equal(t, 1, h.participants[2].index)

	visible, text := hs.get(1).label()
	assert.False(t, visible, "local player has no label")
	assert.Equal(t, "me", text)
	visible, text = hs.get(2).label()
	assert.True(t, visible)
	assert.Equal(t, "bob", text)

	h.tick(0.1)
	assert.Equal(t, mgl64.Vec3{1, 0, 0}, hs.get(1).position)
	assert.Equal(t, mgl64.Vec3{3, 0, 0}, hs.get(2).position)

	// a second update reuses the participant
	h.handle(Event{Name: EventUpdate, Data: wire(t, playersData{Players: []*entity.Player{testPlayer(2, "bob", "", 5)}})})
	assert.Equal(t, 2, hs.created())
	h.tick(0.1)
	assert.Equal(t, mgl64.Vec3{7, 0, 0}, hs.get(2).position)
}

func TestHub_JoinAndQuit(t *testing.T) {
	h, hs := newTestHub()

	h.handle(Event{Name: EventPlayerJoin, Data: wire(t, playerData{Player: testPlayer(4, "alice", "", 0)})})
	require.Len(t, h.participants, 1)
	body := hs.get(4).body
	require.NotNil(t, body)

	h.handle(Event{Name: EventPlayerQuit, Data: wire(t, playerData{Player: testPlayer(4, "alice", "", 0)})})
	assert.Empty(t, h.participants)
	assert.True(t, body.isDestroyed())

	// quitting twice is harmless
	h.handle(Event{Name: EventPlayerQuit, Data: wire(t, playerData{Player: testPlayer(4, "alice", "", 0)})})
	assert.Empty(t, h.participants)
}

func TestHub_IgnoresMalformedEvents(t *testing.T) {
	h, hs := newTestHub()

	h.handle(Event{Name: EventUpdate, Data: "garbage"})
	h.handle(Event{Name: EventPlayerJoin, Data: []any{1, 2}})
	h.handle(Event{Name: "chatMessage", Data: map[string]any{"message": "hi"}})
	h.handle(Event{Name: EventPlayerQuit})

	assert.Empty(t, h.participants)
	assert.Zero(t, hs.created())
}

func TestHub_ClearDestroysParticipants(t *testing.T) {
	h, hs := newTestHub()
	h.handle(Event{Name: EventSyncWorld, Data: wire(t, playersData{Players: []*entity.Player{
		testPlayer(1, "a", "", 0),
		testPlayer(2, "b", "", 0),
	}})})

	h.clear()
	assert.Empty(t, h.participants)
	assert.True(t, hs.get(1).body.isDestroyed())
	assert.True(t, hs.get(2).body.isDestroyed())
}
