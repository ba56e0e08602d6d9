package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"offbeat/internal/domain"
	"offbeat/internal/ports"
)

// Logger is the printf-style logger used by Client. runtime.Logger satisfies it.
type Logger interface {
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// ClientEventKind identifies what a Client observed.
type ClientEventKind string

const (
	ClientViewChanged ClientEventKind = "view_changed"
	ClientEliminated  ClientEventKind = "eliminated"
	ClientKicked      ClientEventKind = "kicked"
	ClientGameEnded   ClientEventKind = "game_ended"
)

// ClientEvent carries the view derived from the snapshot that caused it.
type ClientEvent struct {
	Kind ClientEventKind
	View View
}

// View is the local state derived from the latest game snapshot.
type View struct {
	Game       *domain.Game
	Me         *domain.Player
	Holder     string
	MyTurn     bool
	VoteActive bool
	HasVoted   bool
}

func deriveView(g *domain.Game, playerID string) View {
	v := View{Game: g, Me: g.Player(playerID)}
	v.Holder, _ = g.TurnHolder()
	v.MyTurn = g.Status == domain.StatusPlaying && v.Holder == playerID && g.IsAlive(playerID)
	v.VoteActive = g.HasActiveVote()
	if v.VoteActive {
		v.HasVoted = g.VoteSession.Voted[playerID]
	}
	return v
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger used for non-fatal failures.
func WithClientLogger(l Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithAfter replaces time.After for the turn timer.
func WithAfter(after func(time.Duration) <-chan time.Time) ClientOption {
	return func(c *Client) { c.after = after }
}

// Client drives one player's participation in one game. It keeps a view of
// the subscribed document, runs the local turn timer, performs the at-most-once
// song selection and triggers vote resolution when it sees an end condition.
// Snapshots are handled on a single goroutine.
type Client struct {
	svc      *Service
	gameID   string
	playerID string
	name     string
	log      Logger
	after    func(time.Duration) <-chan time.Time

	events chan ClientEvent

	mu     sync.Mutex
	view   View
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient binds playerID to gameID. Call Open to start receiving snapshots.
func NewClient(svc *Service, gameID, playerID, name string, opts ...ClientOption) *Client {
	c := &Client{
		svc:      svc,
		gameID:   gameID,
		playerID: playerID,
		name:     name,
		log:      nopLogger{},
		after:    time.After,
		events:   make(chan ClientEvent, 32),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events delivers observations until the client stops. The channel is closed
// when the subscription ends.
func (c *Client) Events() <-chan ClientEvent {
	return c.events
}

// View returns the most recent derived view.
func (c *Client) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Open subscribes to the game document. The subscription lives until Close,
// ctx cancellation, a kick, or the game document disappearing.
func (c *Client) Open(ctx context.Context) error {
	if err := requireCaller(c.playerID); err != nil {
		return err
	}
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return errors.New("client already open")
	}
	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	ch, err := c.svc.store.Subscribe(subCtx, c.gameID)
	if err != nil {
		cancel()
		close(c.done)
		return fmt.Errorf("subscribe %s: %w", c.gameID, err)
	}
	go c.run(subCtx, ch)
	return nil
}

// Close tears down the subscription and the turn timer and waits for the loop to exit.
func (c *Client) Close() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Client) run(ctx context.Context, ch <-chan ports.Snapshot) {
	defer close(c.done)
	defer close(c.events)

	var (
		timer     <-chan time.Time
		timerTurn string
		wasAlive  bool
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer:
			timer = nil
			if _, err := c.svc.AdvanceTurnFrom(ctx, c.gameID, c.playerID); err != nil && ctx.Err() == nil {
				c.log.Warn("Client %s: turn timeout advance failed in %s: %v", c.playerID, c.gameID, err)
			}
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if !snap.Exists {
				c.emit(ctx, ClientEvent{Kind: ClientGameEnded}, true)
				return
			}
			g, err := domain.DecodeGame(snap.ID, snap.Data)
			if err != nil {
				c.log.Error("Client %s: bad snapshot for %s: %v", c.playerID, c.gameID, err)
				continue
			}
			view := deriveView(g, c.playerID)
			c.mu.Lock()
			c.view = view
			c.mu.Unlock()

			if view.Me != nil && !view.Me.Alive && wasAlive {
				if eliminatedByVote(g, c.playerID) {
					c.emit(ctx, ClientEvent{Kind: ClientEliminated, View: view}, true)
				} else {
					c.emit(ctx, ClientEvent{Kind: ClientKicked, View: view}, true)
					return
				}
			}
			if view.Me == nil && wasAlive {
				c.emit(ctx, ClientEvent{Kind: ClientGameEnded, View: view}, true)
				return
			}
			wasAlive = view.Me != nil && view.Me.Alive

			switch {
			case view.MyTurn && (timer == nil || timerTurn != view.Holder):
				timer, timerTurn = c.after(c.svc.settings.TurnDuration), view.Holder
			case !view.MyTurn:
				timer, timerTurn = nil, ""
			}

			c.react(ctx, g)
			c.emit(ctx, ClientEvent{Kind: ClientViewChanged, View: view}, false)
		}
	}
}

// react performs the idempotent follow-ups any subscriber may run.
func (c *Client) react(ctx context.Context, g *domain.Game) {
	if g.Status == domain.StatusPlaying && g.Song == nil {
		if _, _, err := c.svc.SelectSong(ctx, c.gameID); err != nil && ctx.Err() == nil {
			c.log.Warn("Client %s: song selection failed in %s: %v", c.playerID, c.gameID, err)
		}
	}
	if g.VoteEndReached() {
		res, _, err := c.svc.ResolveVote(ctx, c.gameID)
		switch {
		case err != nil && ctx.Err() == nil:
			c.log.Warn("Client %s: vote resolution failed in %s: %v", c.playerID, c.gameID, err)
		case res.Resolved:
			c.log.Info("Client %s: resolved vote in %s: %+v", c.playerID, c.gameID, res.Outcome)
		}
	}
}

func eliminatedByVote(g *domain.Game, playerID string) bool {
	return g.VoteSession != nil && !g.VoteSession.Active && domain.Tally(g.VoteSession.Votes).Eliminated == playerID
}

// emit delivers ev. View updates are dropped when the consumer lags; terminal
// events wait for the consumer or for ctx.
func (c *Client) emit(ctx context.Context, ev ClientEvent, wait bool) {
	if !wait {
		select {
		case c.events <- ev:
		default:
			c.log.Debug("Client %s: dropped %s event", c.playerID, ev.Kind)
		}
		return
	}
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

func (c *Client) report(action string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsValidation(err) {
		c.log.Debug("Client %s: %s rejected: %v", c.playerID, action, err)
	} else {
		c.log.Warn("Client %s: %s failed in %s: %v", c.playerID, action, c.gameID, err)
	}
	return err
}

// Join adds the player to the roster.
func (c *Client) Join(ctx context.Context) error {
	_, err := c.svc.Join(ctx, c.gameID, c.playerID, c.name)
	return c.report("join", err)
}

// Send posts a chat message.
func (c *Client) Send(ctx context.Context, text string) error {
	_, _, err := c.svc.SendMessage(ctx, c.gameID, c.playerID, c.name, text)
	return c.report("send", err)
}

// LinkTracks stores the player's top tracks.
func (c *Client) LinkTracks(ctx context.Context, tracks []domain.Track) error {
	_, err := c.svc.SetTopTracks(ctx, c.gameID, c.playerID, tracks)
	return c.report("link tracks", err)
}

// CallVote toggles the player's call-to-vote request.
func (c *Client) CallVote(ctx context.Context) (CallVoteResult, error) {
	res, _, err := c.svc.ToggleCallVote(ctx, c.gameID, c.playerID)
	return res, c.report("call vote", err)
}

// Vote casts the player's vote and resolves the session when it is complete.
func (c *Client) Vote(ctx context.Context, target string) error {
	res, _, err := c.svc.CastVote(ctx, c.gameID, c.playerID, target)
	if err != nil {
		return c.report("vote", err)
	}
	if res.EndReached {
		_, _, err = c.svc.ResolveVote(ctx, c.gameID)
	}
	return c.report("resolve", err)
}

// StartGame starts the game when the player is the host.
func (c *Client) StartGame(ctx context.Context) error {
	_, err := c.svc.StartGame(ctx, c.gameID, c.playerID)
	return c.report("start", err)
}

// EndVote forces resolution when the player is the host.
func (c *Client) EndVote(ctx context.Context) error {
	_, _, err := c.svc.EndVote(ctx, c.gameID, c.playerID)
	return c.report("end vote", err)
}

// Leave removes the player from the game and closes the client.
func (c *Client) Leave(ctx context.Context) error {
	_, err := c.svc.Leave(ctx, c.gameID, c.playerID)
	c.Close()
	if errors.Is(err, ports.ErrNotFound) {
		return nil
	}
	return c.report("leave", err)
}
