package network

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"avatarsync.dev/client/entity"
)

// Event names exchanged with the game server.
const (
	EventUpdate     = "update"
	EventSyncWorld  = "syncWorld"
	EventPlayerJoin = "playerJoin"
	EventPlayerQuit = "playerQuit"
)

// Event is the struct sent and received from the server
type Event struct {
	Name string `json:"name"`
	Data any    `json:"data"`
}

type playersData struct {
	Players []*entity.Player `json:"players"`
}

type playerData struct {
	Player *entity.Player `json:"player"`
}

// decode converts the generic event payload into out.
func decode(data any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(data); err != nil {
		return fmt.Errorf("failed to decode event data: %w", err)
	}
	return nil
}
