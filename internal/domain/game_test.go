package domain

import (
	"math/rand"
	"reflect"
	"strings"
	"testing"
)

func TestDocumentRoundTripKeepsWireNames(t *testing.T) {
	g := newPlayingGame("host", "p2")
	g.Messages = []Message{{ID: "m1", SenderID: "host", SenderName: "Host", Text: "hi"}}
	g.Song = &Song{Name: "Album", Artist: "A, B", AlbumCover: "http://img"}

	doc, err := g.Document()
	if err != nil {
		t.Fatalf("Document() error: %v", err)
	}
	for _, key := range []string{FieldHostID, FieldLobbyName, FieldTopic, FieldMaxPlayers, FieldIsPublic, FieldStatus, FieldPlayers, FieldMessages, FieldTurnOrder, FieldCallVoteList, FieldCallVote, FieldSong} {
		if _, ok := doc[key]; !ok {
			t.Fatalf("document missing %q: %v", key, doc)
		}
	}
	if _, ok := doc[FieldVoteSession]; ok {
		t.Fatal("absent vote session should be omitted")
	}
	if doc[FieldStatus] != "playing" {
		t.Fatalf("status = %v, want playing", doc[FieldStatus])
	}

	back, err := DecodeGame("ABC123", doc)
	if err != nil {
		t.Fatalf("DecodeGame() error: %v", err)
	}
	g.ID = "ABC123"
	if !reflect.DeepEqual(back, g) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", back, g)
	}
}

func TestDecodeGameDefaultsPlayers(t *testing.T) {
	g, err := DecodeGame("X", map[string]any{"status": "waiting"})
	if err != nil {
		t.Fatalf("DecodeGame() error: %v", err)
	}
	if g.Players == nil {
		t.Fatal("players map should be initialized")
	}
}

func TestIsJoinable(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(g *Game)
		want   bool
	}{
		{name: "open public lobby", mutate: func(g *Game) {}, want: true},
		{name: "private", mutate: func(g *Game) { g.IsPublic = false }, want: false},
		{name: "playing", mutate: func(g *Game) { g.Status = StatusPlaying }, want: false},
		{name: "full", mutate: func(g *Game) { g.Players["p3"] = &Player{Name: "p3", Alive: true} }, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newPlayingGame("p1", "p2")
			g.Status = StatusWaiting
			g.IsPublic = true
			g.MaxPlayers = 3
			tt.mutate(g)
			if got := g.IsJoinable(); got != tt.want {
				t.Fatalf("IsJoinable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextTurn(t *testing.T) {
	tests := []struct {
		name   string
		holder string
		dead   []string
		want   string
	}{
		{name: "advances", holder: "p1", want: "p2"},
		{name: "wraps", holder: "p3", want: "p1"},
		{name: "no holder defaults to index zero", holder: "", want: "p2"},
		{name: "skips dead", holder: "p1", dead: []string{"p2"}, want: "p3"},
		{name: "only holder alive", holder: "p1", dead: []string{"p2", "p3"}, want: "p1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newPlayingGame("p1", "p2", "p3")
			if tt.holder != "" {
				g.Players[tt.holder].IsTurn = true
			}
			for _, id := range tt.dead {
				g.Players[id].Alive = false
			}
			if got := g.NextTurn(); got != tt.want {
				t.Fatalf("NextTurn() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNextTurnExcluding(t *testing.T) {
	g := newPlayingGame("p1", "p2")
	g.Players["p1"].IsTurn = true
	g.Players["p2"].Alive = false
	if got := g.NextTurnExcluding("p1"); got != "" {
		t.Fatalf("NextTurnExcluding() = %q, want empty", got)
	}
}

func TestTurnFlagsSingleHolder(t *testing.T) {
	g := newPlayingGame("p1", "p2", "p3")
	flags := g.TurnFlags("p2")
	holders := 0
	for _, v := range flags {
		if v {
			holders++
		}
	}
	if holders != 1 || !flags["p2"] || len(flags) != 3 {
		t.Fatalf("unexpected flags: %v", flags)
	}
}

func TestPickSong(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	players := map[string]*Player{
		"a": {TopTracks: []Track{{ID: "t1", Name: "One", Artist: []string{"X"}, Image: "i1"}}},
		"b": {TopTracks: []Track{{ID: "t2", Name: "Two", Artist: []string{"Y", "Z"}, Image: "i2"}}},
		"c": {},
	}
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[PickSong(players, rng).Name] = true
	}
	if !seen["One"] || !seen["Two"] || len(seen) != 2 {
		t.Fatalf("expected both tracks to be picked, got %v", seen)
	}

	if got := PickSong(map[string]*Player{"a": {}}, rng); !got.IsPlaceholder() {
		t.Fatalf("PickSong without tracks = %+v, want placeholder", got)
	}
}

func TestSongFromTrackJoinsArtists(t *testing.T) {
	got := SongFromTrack(Track{Name: "N", Artist: []string{"A", "B"}, Image: "img"})
	want := Song{Name: "N", Artist: "A, B", AlbumCover: "img"}
	if got != want {
		t.Fatalf("SongFromTrack() = %+v, want %+v", got, want)
	}
}

func TestGenerateCode(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		code := GenerateCode(rng)
		if len(code) != CodeLength {
			t.Fatalf("code %q has length %d", code, len(code))
		}
		for _, r := range code {
			if !strings.ContainsRune(codeChars, r) {
				t.Fatalf("code %q contains %q", code, r)
			}
		}
	}
}

func TestLobbyOptionsNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      LobbyOptions
		want    LobbyOptions
		wantErr error
	}{
		{
			name: "defaults",
			in:   LobbyOptions{LobbyName: "  Party  "},
			want: LobbyOptions{LobbyName: "Party", MaxPlayers: DefaultMaxPlayers, Topic: DefaultTopic},
		},
		{name: "short name", in: LobbyOptions{LobbyName: "abc"}, wantErr: ErrInvalidLobbyName},
		{name: "long name", in: LobbyOptions{LobbyName: "abcdefghijklmnop"}, wantErr: ErrInvalidLobbyName},
		{name: "too many players", in: LobbyOptions{LobbyName: "Party", MaxPlayers: 9}, wantErr: ErrInvalidMaxPlayers},
		{name: "too few players", in: LobbyOptions{LobbyName: "Party", MaxPlayers: 2}, wantErr: ErrInvalidMaxPlayers},
		{name: "unknown topic", in: LobbyOptions{LobbyName: "Party", Topic: "Cars"}, wantErr: ErrInvalidTopic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize(nil)
			if err != tt.wantErr {
				t.Fatalf("Normalize() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Fatalf("Normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestValidatePlayerID(t *testing.T) {
	for _, id := range []string{"", "a.b", SkipTarget} {
		if err := ValidatePlayerID(id); err != ErrInvalidPlayerID {
			t.Fatalf("ValidatePlayerID(%q) = %v, want ErrInvalidPlayerID", id, err)
		}
	}
	if err := ValidatePlayerID("0b6e2f1e-4f1a-4c39-9c51-5a7f27f0c8aa"); err != nil {
		t.Fatalf("ValidatePlayerID(uuid) = %v", err)
	}
}

func TestNormalizeMessage(t *testing.T) {
	if _, err := NormalizeMessage(" \t\n"); err != ErrEmptyMessage {
		t.Fatalf("whitespace message error = %v, want ErrEmptyMessage", err)
	}
	got, err := NormalizeMessage("  hello ")
	if err != nil || got != "hello" {
		t.Fatalf("NormalizeMessage() = %q, %v", got, err)
	}
	long, _ := NormalizeMessage(strings.Repeat("x", MaxMessageRunes+10))
	if len(long) != MaxMessageRunes {
		t.Fatalf("long message length = %d, want %d", len(long), MaxMessageRunes)
	}
}
