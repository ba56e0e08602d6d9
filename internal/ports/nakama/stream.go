package nakama

import (
	"fmt"
	"time"

	"offbeat/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// GameStream pushes whole game documents to the sessions that subscribed to them.
type GameStream struct {
	nk     runtime.NakamaModule
	logger runtime.Logger
}

// NewGameStream creates a stream publisher over nk.
func NewGameStream(nk runtime.NakamaModule, logger runtime.Logger) *GameStream {
	return &GameStream{nk: nk, logger: logger}
}

// Join adds a session to the game's stream.
func (g *GameStream) Join(gameID, userID, sessionID string) error {
	if _, err := g.nk.StreamUserJoin(StreamModeGame, gameID, "", "", userID, sessionID, false, false, ""); err != nil {
		return fmt.Errorf("stream join %s: %w", gameID, err)
	}
	return nil
}

// Leave removes a session from the game's stream.
func (g *GameStream) Leave(gameID, userID, sessionID string) error {
	if err := g.nk.StreamUserLeave(StreamModeGame, gameID, "", "", userID, sessionID); err != nil {
		return fmt.Errorf("stream leave %s: %w", gameID, err)
	}
	return nil
}

// Push sends snap to every session on its game's stream. Failures are logged;
// clients recover on the next change or with get_game.
func (g *GameStream) Push(snap ports.Snapshot) {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		g.logger.Error("GameStream: encode %s: %v", snap.ID, err)
		return
	}
	if err := g.nk.StreamSend(StreamModeGame, snap.ID, "", "", data, nil, true); err != nil {
		g.logger.Warn("GameStream: send %s: %v", snap.ID, err)
	}
}

// EncodeSnapshot renders the stream message for snap. A deleted game is sent
// with exists=false and no document.
func EncodeSnapshot(snap ports.Snapshot) (string, error) {
	msg := map[string]interface{}{
		"gameId":  snap.ID,
		"exists":  snap.Exists,
		"version": snap.Version,
	}
	if snap.Exists {
		msg["document"] = snap.Data
		if !snap.UpdatedAt.IsZero() {
			msg["updatedAt"] = snap.UpdatedAt.UTC().Format(time.RFC3339Nano)
		}
	}
	st, err := structpb.NewStruct(msg)
	if err != nil {
		return "", err
	}
	out, err := protojson.Marshal(st)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
