package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"offbeat/internal/domain"
	"offbeat/internal/ports"
)

func TestSendMessageRejectsBlankText(t *testing.T) {
	svc, _ := newTestService(t, Settings{})
	ctx := context.Background()
	id := setupLobby(t, svc, 5, "host")
	before := mustGame(t, svc, id)

	if _, _, err := svc.SendMessage(ctx, id, "host", "Host", "   \n"); !errors.Is(err, domain.ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
	if len(mustGame(t, svc, id).Messages) != len(before.Messages) {
		t.Fatal("blank message was written")
	}
	if _, _, err := svc.SendMessage(ctx, id, "", "Anon", "hi"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
}

func TestSendMessageAppends(t *testing.T) {
	svc, _ := newTestService(t, Settings{})
	ctx := context.Background()
	id := setupLobby(t, svc, 5, "host", "p2")

	for i, sender := range []string{"host", "p2", "host"} {
		if _, _, err := svc.SendMessage(ctx, id, sender, sender, fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatal(err)
		}
	}
	msgs := mustGame(t, svc, id).Messages
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	for i, m := range msgs {
		if m.Text != fmt.Sprintf("msg %d", i) || m.ID == "" {
			t.Fatalf("message %d = %+v", i, m)
		}
	}
}

func TestConcurrentSendsLoseNothing(t *testing.T) {
	svc, _ := newTestService(t, Settings{})
	ctx := context.Background()
	id := setupLobby(t, svc, 8, "host", "p2", "p3", "p4")

	const perSender = 10
	var wg sync.WaitGroup
	for _, sender := range []string{"host", "p2", "p3", "p4"} {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				if _, _, err := svc.SendMessage(ctx, id, sender, sender, fmt.Sprintf("%s-%d", sender, i)); err != nil {
					t.Errorf("SendMessage error: %v", err)
				}
			}
		}(sender)
	}
	wg.Wait()

	if got := len(mustGame(t, svc, id).Messages); got != 4*perSender {
		t.Fatalf("messages = %d, want %d", got, 4*perSender)
	}
}

func TestSendMessageByTurnHolderAdvances(t *testing.T) {
	svc, _ := newTestService(t, Settings{})
	ctx := context.Background()
	id := setupPlaying(t, svc, "p1", "p2", "p3")

	_, evs, err := svc.SendMessage(ctx, id, "p2", "p2", "not my turn")
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 {
		t.Fatalf("non-holder message events = %v", Kinds(evs))
	}

	_, evs, err = svc.SendMessage(ctx, id, "p1", "p1", "my answer")
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 2 || evs[1].Kind != EventTurnAdvanced {
		t.Fatalf("holder message events = %v", Kinds(evs))
	}
	if holder, _ := mustGame(t, svc, id).TurnHolder(); holder != "p2" {
		t.Fatalf("holder = %q, want p2", holder)
	}
}

func TestSendMessageToDeletedGame(t *testing.T) {
	svc, _ := newTestService(t, Settings{})
	ctx := context.Background()
	id := setupLobby(t, svc, 5, "host")
	_, _ = svc.Leave(ctx, id, "host")

	if _, _, err := svc.SendMessage(ctx, id, "host", "Host", "hello?"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// contendedStore fails every transaction once armed, as if retries were exhausted.
type contendedStore struct {
	ports.DocumentStore
	armed bool
}

func (s *contendedStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	if s.armed {
		return fmt.Errorf("gave up: %w", ports.ErrConflict)
	}
	return s.DocumentStore.RunTransaction(ctx, fn)
}

type recordingLogger struct {
	nopLogger
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Warn(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, fmt.Sprintf(format, v...))
}

func TestSendMessageSurvivesFailedTurnPass(t *testing.T) {
	base, _ := newTestService(t, Settings{})
	id := setupPlaying(t, base, "p1", "p2")

	store := &contendedStore{DocumentStore: base.Store()}
	log := &recordingLogger{}
	svc := NewService(store, Settings{}, nil, WithServiceLogger(log))
	store.armed = true

	msg, evs, err := svc.SendMessage(context.Background(), id, "p1", "p1", "my clue")
	if err != nil {
		t.Fatalf("SendMessage error: %v", err)
	}
	if msg.Text != "my clue" || len(evs) != 1 || evs[0].Kind != EventMessageSent {
		t.Fatalf("msg = %+v, events = %v", msg, Kinds(evs))
	}

	g := mustGame(t, svc, id)
	if len(g.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(g.Messages))
	}
	if holder, _ := g.TurnHolder(); holder != "p1" {
		t.Fatalf("holder = %q, want p1 to keep the turn", holder)
	}
	if len(log.warns) != 1 {
		t.Fatalf("warnings = %v, want one", log.warns)
	}
}
