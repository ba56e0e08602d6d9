package nakama

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"offbeat/internal/app"
	"offbeat/internal/domain"
	"offbeat/internal/ports"

	"github.com/heroiclabs/nakama-common/runtime"
)

var (
	errInvalidPayload = runtime.NewError("invalid payload", codeInvalidArgument)
	errNoSession      = runtime.NewError("a realtime session is required", codeInvalidArgument)
	errNoTrackSource  = runtime.NewError("track linking is not configured", codeInvalidArgument)
)

// RPCs exposes the Off Beat use-cases as Nakama RPCs.
type RPCs struct {
	svc         *app.Service
	stream      *GameStream
	tracks      ports.TrackPort
	tracksLimit int
	accounts    ports.AccountPort
}

// RPCOption configures RPCs.
type RPCOption func(*RPCs)

// WithAccounts lets handlers fall back to the caller's account display name.
func WithAccounts(a ports.AccountPort) RPCOption {
	return func(r *RPCs) { r.accounts = a }
}

// NewRPCs binds svc to the RPC surface. tracks may be nil, in which case
// link_tracks only accepts explicit track lists.
func NewRPCs(svc *app.Service, stream *GameStream, tracks ports.TrackPort, tracksLimit int, opts ...RPCOption) *RPCs {
	r := &RPCs{svc: svc, stream: stream, tracks: tracks, tracksLimit: tracksLimit}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type rpcFunc func(ctx context.Context, logger runtime.Logger, callerID, payload string) (interface{}, error)

// Register registers every RPC endpoint.
func (r *RPCs) Register(initializer runtime.Initializer) error {
	routes := map[string]rpcFunc{
		RpcCreateGame:      r.createGame,
		RpcJoinGame:        r.joinGame,
		RpcLeaveGame:       r.leaveGame,
		RpcKickPlayer:      r.kickPlayer,
		RpcSendMessage:     r.sendMessage,
		RpcStartGame:       r.startGame,
		RpcSelectSong:      r.selectSong,
		RpcCallVote:        r.callVote,
		RpcCastVote:        r.castVote,
		RpcEndVote:         r.endVote,
		RpcAdvanceTurn:     r.advanceTurn,
		RpcListLobbies:     r.listLobbies,
		RpcFindLobby:       r.findLobby,
		RpcGetGame:         r.getGame,
		RpcLinkTracks:      r.linkTracks,
		RpcSubscribeGame:   r.subscribeGame,
		RpcUnsubscribeGame: r.unsubscribeGame,
	}
	for id, fn := range routes {
		if err := initializer.RegisterRpc(id, r.handle(id, fn)); err != nil {
			return err
		}
	}
	return nil
}

func (r *RPCs) handle(id string, fn rpcFunc) func(context.Context, runtime.Logger, *sql.DB, runtime.NakamaModule, string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		callerID, _ := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
		log := logger.WithField("rpc", id)
		if callerID != "" {
			log = log.WithField("user_id", callerID)
		}

		res, err := fn(ctx, log, callerID, payload)
		if err != nil {
			return "", toRuntimeError(log, err)
		}
		if res == nil {
			return "{}", nil
		}
		out, err := json.Marshal(res)
		if err != nil {
			log.Error("failed to marshal response: %v", err)
			return "", runtime.NewError("internal error", codeInternal)
		}
		return string(out), nil
	}
}

// toRuntimeError maps use-case failures onto gRPC status codes.
func toRuntimeError(logger runtime.Logger, err error) error {
	var rerr *runtime.Error
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &rerr):
		return rerr
	case errors.Is(err, app.ErrUnauthenticated):
		return runtime.NewError("authentication required", codeUnauthenticated)
	case errors.As(err, &verr):
		logger.Debug("rejected: %v", err)
		return runtime.NewError(verr.Reason, codeInvalidArgument)
	case errors.Is(err, ports.ErrNotFound):
		return runtime.NewError("game not found", codeNotFound)
	case errors.Is(err, ports.ErrConflict):
		logger.Warn("gave up after conflicts: %v", err)
		return runtime.NewError("game changed concurrently, try again", codeAborted)
	default:
		logger.Error("failed: %v", err)
		return runtime.NewError("internal error", codeInternal)
	}
}

func decode(payload string, v interface{}) error {
	if strings.TrimSpace(payload) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return errInvalidPayload
	}
	return nil
}

func logEvents(logger runtime.Logger, evs []app.Event) {
	for _, ev := range evs {
		logger.WithField("game_id", ev.GameID).Info("%s", ev.Kind)
	}
}

// callerName prefers the name sent by the client, then the account display
// name, then the account username.
func (r *RPCs) callerName(ctx context.Context, logger runtime.Logger, callerID, name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if r.accounts != nil && callerID != "" {
		display, err := r.accounts.DisplayName(ctx, callerID)
		if err != nil {
			logger.Debug("display name lookup failed: %v", err)
		} else if display != "" {
			return display
		}
	}
	username, _ := ctx.Value(runtime.RUNTIME_CTX_USERNAME).(string)
	return username
}

type gameRequest struct {
	GameID string `json:"gameId"`
}

type createGameRequest struct {
	Name       string `json:"name"`
	LobbyName  string `json:"lobbyName"`
	MaxPlayers int    `json:"maxPlayers"`
	IsPublic   bool   `json:"isPublic"`
	Topic      string `json:"topic"`
}

type joinGameRequest struct {
	GameID string `json:"gameId"`
	Name   string `json:"name"`
}

type kickPlayerRequest struct {
	GameID string `json:"gameId"`
	UserID string `json:"userId"`
}

type sendMessageRequest struct {
	GameID string `json:"gameId"`
	Name   string `json:"name"`
	Text   string `json:"text"`
}

type castVoteRequest struct {
	GameID   string `json:"gameId"`
	TargetID string `json:"targetId"`
}

type findLobbyRequest struct {
	LobbyName string `json:"lobbyName"`
}

type linkTracksRequest struct {
	GameID string         `json:"gameId"`
	Token  string         `json:"token"`
	Tracks []domain.Track `json:"tracks"`
}

// GameResponse carries a whole game document.
type GameResponse struct {
	GameID string       `json:"gameId"`
	Game   *domain.Game `json:"game"`
}

// LobbySummary is one entry of list_lobbies.
type LobbySummary struct {
	GameID     string `json:"gameId"`
	LobbyName  string `json:"lobbyName"`
	Topic      string `json:"topic"`
	HostID     string `json:"hostId"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"maxPlayers"`
}

// CastVoteResponse reports the vote and, when it completed the session, the resolution.
type CastVoteResponse struct {
	EndReached bool            `json:"endReached"`
	Resolution *app.Resolution `json:"resolution,omitempty"`
}

func (r *RPCs) parseGameID(payload string) (string, error) {
	var req gameRequest
	if err := decode(payload, &req); err != nil {
		return "", err
	}
	if req.GameID == "" {
		return "", errInvalidPayload
	}
	return req.GameID, nil
}

func (r *RPCs) gameResponse(ctx context.Context, gameID string) (interface{}, error) {
	g, err := r.svc.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return GameResponse{GameID: g.ID, Game: g}, nil
}

func (r *RPCs) createGame(ctx context.Context, logger runtime.Logger, callerID, payload string) (interface{}, error) {
	var req createGameRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	g, evs, err := r.svc.CreateGame(ctx, callerID, r.callerName(ctx, logger, callerID, req.Name), domain.LobbyOptions{
		LobbyName:  req.LobbyName,
		MaxPlayers: req.MaxPlayers,
		IsPublic:   req.IsPublic,
		Topic:      req.Topic,
	})
	if err != nil {
		return nil, err
	}
	logEvents(logger, evs)
	return GameResponse{GameID: g.ID, Game: g}, nil
}

func (r *RPCs) joinGame(ctx context.Context, logger runtime.Logger, callerID, payload string) (interface{}, error) {
	var req joinGameRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	evs, err := r.svc.Join(ctx, req.GameID, callerID, r.callerName(ctx, logger, callerID, req.Name))
	if err != nil {
		return nil, err
	}
	logEvents(logger, evs)
	return r.gameResponse(ctx, req.GameID)
}

func (r *RPCs) leaveGame(ctx context.Context, logger runtime.Logger, callerID, payload string) (interface{}, error) {
	gameID, err := r.parseGameID(payload)
	if err != nil {
		return nil, err
	}
	evs, err := r.svc.Leave(ctx, gameID, callerID)
	if err != nil {
		return nil, err
	}
	logEvents(logger, evs)
	r.resolvePending(ctx, logger, gameID)
	return nil, nil
}

func (r *RPCs) kickPlayer(ctx context.Context, logger runtime.Logger, callerID, payload string) (interface{}, error) {
	var req kickPlayerRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	evs, err := r.svc.Kick(ctx, req.GameID, callerID, req.UserID)
	if err != nil {
		return nil, err
	}
	logEvents(logger, evs)
	r.resolvePending(ctx, logger, req.GameID)
	return nil, nil
}

// resolvePending closes a vote session whose last pending voter just dropped
// out of play. Failures are logged; the roster change already committed.
func (r *RPCs) resolvePending(ctx context.Context, logger runtime.Logger, gameID string) *app.Resolution {
	g, err := r.svc.GetGame(ctx, gameID)
	if err != nil {
		if !errors.Is(err, ports.ErrNotFound) {
			logger.Warn("vote check after roster change failed: %v", err)
		}
		return nil
	}
	if !g.VoteEndReached() {
		return nil
	}
	resolution, evs, err := r.svc.ResolveVote(ctx, gameID)
	if err != nil {
		logger.Warn("vote resolution failed: %v", err)
		return nil
	}
	logEvents(logger, evs)
	return &resolution
}

func (r *RPCs) sendMessage(ctx context.Context, logger runtime.Logger, callerID, payload string) (interface{}, error) {
	var req sendMessageRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	name := req.Name
	if strings.TrimSpace(name) == "" {
		if g, err := r.svc.GetGame(ctx, req.GameID); err == nil {
			if p := g.Player(callerID); p != nil {
				name = p.Name
			}
		}
	}
	msg, evs, err := r.svc.SendMessage(ctx, req.GameID, callerID, r.callerName(ctx, logger, callerID, name), req.Text)
	if err != nil {
		return nil, err
	}
	logEvents(logger, evs)
	return msg, nil
}

func (r *RPCs) startGame(ctx context.Context, logger runtime.Logger, callerID, payload string) (interface{}, error) {
	gameID, err := r.parseGameID(payload)
	if err != nil {
		return nil, err
	}
	evs, err := r.svc.StartGame(ctx, gameID, callerID)
	if err != nil {
		return nil, err
	}
	logEvents(logger, evs)
	return r.gameResponse(ctx, gameID)
}

func (r *RPCs) selectSong(ctx context.Context, logger runtime.Logger, callerID, payload string) (interface{}, error) {
	if callerID == "" {
		return nil, app.ErrUnauthenticated
	}
	gameID, err := r.parseGameID(payload)
	if err != nil {
		return nil, err
	}
	song, evs, err := r.svc.SelectSong(ctx, gameID)
	if err != nil {
		return nil, err
	}
	logEvents(logger, evs)
	return song, nil
}

func (r *RPCs) callVote(ctx context.Context, logger runtime.Logger, callerID, payload string) (interface{}, error) {
	gameID, err := r.parseGameID(payload)
	if err != nil {
		return nil, err
	}
	res, evs, err := r.svc.ToggleCallVote(ctx, gameID, callerID)
	if err != nil {
		return nil, err
	}
	logEvents(logger, evs)
	return res, nil
}

// castVote resolves the session server-side once the vote completes it, so no
// client has to notice the end condition.
func (r *RPCs) castVote(ctx context.Context, logger runtime.Logger, callerID, payload string) (interface{}, error) {
	var req castVoteRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	res, evs, err := r.svc.CastVote(ctx, req.GameID, callerID, req.TargetID)
	if err != nil {
		return nil, err
	}
	logEvents(logger, evs)

	resp := CastVoteResponse{EndReached: res.EndReached}
	if res.EndReached {
		resp.Resolution = r.resolvePending(ctx, logger, req.GameID)
	}
	return resp, nil
}

func (r *RPCs) endVote(ctx context.Context, logger runtime.Logger, callerID, payload string) (interface{}, error) {
	gameID, err := r.parseGameID(payload)
	if err != nil {
		return nil, err
	}
	res, evs, err := r.svc.EndVote(ctx, gameID, callerID)
	if err != nil {
		return nil, err
	}
	logEvents(logger, evs)
	return res, nil
}

func (r *RPCs) advanceTurn(ctx context.Context, logger runtime.Logger, callerID, payload string) (interface{}, error) {
	gameID, err := r.parseGameID(payload)
	if err != nil {
		return nil, err
	}
	evs, err := r.svc.SkipTurn(ctx, gameID, callerID)
	if err != nil {
		return nil, err
	}
	logEvents(logger, evs)
	return r.gameResponse(ctx, gameID)
}

func (r *RPCs) listLobbies(ctx context.Context, logger runtime.Logger, callerID, payload string) (interface{}, error) {
	lobbies, err := r.svc.ListLobbies(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]LobbySummary, 0, len(lobbies))
	for _, g := range lobbies {
		out = append(out, LobbySummary{
			GameID:     g.ID,
			LobbyName:  g.LobbyName,
			Topic:      g.Topic,
			HostID:     g.HostID,
			Players:    len(g.Players),
			MaxPlayers: g.MaxPlayers,
		})
	}
	return map[string]interface{}{"lobbies": out}, nil
}

func (r *RPCs) findLobby(ctx context.Context, logger runtime.Logger, callerID, payload string) (interface{}, error) {
	var req findLobbyRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.LobbyName == "" {
		return nil, errInvalidPayload
	}
	g, err := r.svc.FindLobbyByName(ctx, req.LobbyName)
	if err != nil {
		return nil, err
	}
	return GameResponse{GameID: g.ID, Game: g}, nil
}

func (r *RPCs) getGame(ctx context.Context, logger runtime.Logger, callerID, payload string) (interface{}, error) {
	gameID, err := r.parseGameID(payload)
	if err != nil {
		return nil, err
	}
	return r.gameResponse(ctx, gameID)
}

// linkTracks stores the caller's top tracks, fetched with the music-service
// token when one is given.
func (r *RPCs) linkTracks(ctx context.Context, logger runtime.Logger, callerID, payload string) (interface{}, error) {
	var req linkTracksRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	tracks := req.Tracks
	if req.Token != "" {
		if r.tracks == nil {
			return nil, errNoTrackSource
		}
		fetched, err := r.tracks.GetTopTracks(ctx, req.Token, r.tracksLimit)
		if err != nil {
			logger.Warn("top tracks fetch failed: %v", err)
			return nil, runtime.NewError("could not fetch top tracks", codeInternal)
		}
		tracks = fetched
	}
	evs, err := r.svc.SetTopTracks(ctx, req.GameID, callerID, tracks)
	if err != nil {
		return nil, err
	}
	logEvents(logger, evs)
	return map[string]interface{}{"tracks": tracks}, nil
}

func (r *RPCs) subscribeGame(ctx context.Context, logger runtime.Logger, callerID, payload string) (interface{}, error) {
	if callerID == "" {
		return nil, app.ErrUnauthenticated
	}
	gameID, err := r.parseGameID(payload)
	if err != nil {
		return nil, err
	}
	sessionID, _ := ctx.Value(runtime.RUNTIME_CTX_SESSION_ID).(string)
	if sessionID == "" {
		return nil, errNoSession
	}
	resp, err := r.gameResponse(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if err := r.stream.Join(gameID, callerID, sessionID); err != nil {
		return nil, err
	}
	logger.Debug("session %s subscribed to %s", sessionID, gameID)
	return resp, nil
}

func (r *RPCs) unsubscribeGame(ctx context.Context, logger runtime.Logger, callerID, payload string) (interface{}, error) {
	if callerID == "" {
		return nil, app.ErrUnauthenticated
	}
	gameID, err := r.parseGameID(payload)
	if err != nil {
		return nil, err
	}
	sessionID, _ := ctx.Value(runtime.RUNTIME_CTX_SESSION_ID).(string)
	if sessionID == "" {
		return nil, errNoSession
	}
	return nil, r.stream.Leave(gameID, callerID, sessionID)
}
