package nakama

// RPC ids registered with Nakama.
const (
	RpcCreateGame      = "create_game"
	RpcJoinGame        = "join_game"
	RpcLeaveGame       = "leave_game"
	RpcKickPlayer      = "kick_player"
	RpcSendMessage     = "send_message"
	RpcStartGame       = "start_game"
	RpcSelectSong      = "select_song"
	RpcCallVote        = "call_vote"
	RpcCastVote        = "cast_vote"
	RpcEndVote         = "end_vote"
	RpcAdvanceTurn     = "advance_turn"
	RpcListLobbies     = "list_lobbies"
	RpcFindLobby       = "find_lobby"
	RpcGetGame         = "get_game"
	RpcLinkTracks      = "link_tracks"
	RpcSubscribeGame   = "subscribe_game"
	RpcUnsubscribeGame = "unsubscribe_game"
)

const (
	// GameCollection holds one storage object per game, keyed by game code.
	GameCollection = "offbeat_games"

	// SystemUserID owns game objects; the empty id is Nakama's system user.
	SystemUserID = ""

	// StreamModeGame is the custom stream mode game documents are pushed on.
	// The stream subject is the game id.
	StreamModeGame uint8 = 123

	versionMustNotExist = "*"
	maxListPage         = 100
)

// gRPC status codes used in runtime errors.
const (
	codeInvalidArgument = 3
	codeNotFound        = 5
	codeAborted         = 10
	codeInternal        = 13
	codeUnauthenticated = 16
)
