package redis

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/huyvnnb/tanin/internal/core/domain"
	"github.com/huyvnnb/tanin/internal/core/port"
)

func newTestMatcher(t *testing.T) (*Matcher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewMatcher(rdb), mr
}

func newUser(t *testing.T) domain.UserID {
	t.Helper()
	id, err := domain.ParseUserID(uuid.New().String())
	if err != nil {
		t.Fatalf("parse user id: %v", err)
	}
	return id
}

func TestEnrollWithdrawIdempotent(t *testing.T) {
	m, mr := newTestMatcher(t)
	ctx := context.Background()
	u := newUser(t)

	for i := 0; i < 2; i++ {
		if err := m.Enroll(ctx, u); err != nil {
			t.Fatalf("enroll: %v", err)
		}
	}
	if members, _ := mr.Members(waitingPoolKey); len(members) != 1 {
		t.Fatalf("pool has %d members, want 1", len(members))
	}

	for i := 0; i < 2; i++ {
		if err := m.Withdraw(ctx, u); err != nil {
			t.Fatalf("withdraw: %v", err)
		}
	}
	if mr.Exists(waitingPoolKey) {
		if members, _ := mr.Members(waitingPoolKey); len(members) != 0 {
			t.Fatalf("pool has %d members, want 0", len(members))
		}
	}
}

func TestTryMatchCreatesRoomAndIndex(t *testing.T) {
	m, _ := newTestMatcher(t)
	ctx := context.Background()
	u1, u2 := newUser(t), newUser(t)

	if err := m.Enroll(ctx, u1); err != nil {
		t.Fatalf("enroll u1: %v", err)
	}
	if err := m.Enroll(ctx, u2); err != nil {
		t.Fatalf("enroll u2: %v", err)
	}

	match, err := m.TryMatch(ctx)
	if err != nil {
		t.Fatalf("try match: %v", err)
	}
	if match.User1 == match.User2 {
		t.Fatal("matched a user with itself")
	}

	for _, u := range []domain.UserID{u1, u2} {
		roomID, partner, err := m.RoomOf(ctx, u)
		if err != nil {
			t.Fatalf("room of %s: %v", u, err)
		}
		if roomID != match.RoomID {
			t.Fatalf("room of %s = %s, want %s", u, roomID, match.RoomID)
		}
		if partner == u {
			t.Fatal("partner resolves to self")
		}
	}
}

func TestTryMatchShortPoolReEnrolls(t *testing.T) {
	m, mr := newTestMatcher(t)
	ctx := context.Background()
	u := newUser(t)

	if _, err := m.TryMatch(ctx); !errors.Is(err, domain.ErrNoMatch) {
		t.Fatalf("empty pool error = %v, want ErrNoMatch", err)
	}

	if err := m.Enroll(ctx, u); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if _, err := m.TryMatch(ctx); !errors.Is(err, domain.ErrNoMatch) {
		t.Fatalf("single-member pool error = %v, want ErrNoMatch", err)
	}

	// The lone popped member must be back in the pool afterwards.
	members, err := mr.Members(waitingPoolKey)
	if err != nil {
		t.Fatalf("pool members: %v", err)
	}
	if len(members) != 1 || members[0] != u.String() {
		t.Fatalf("pool = %v, want [%s]", members, u)
	}
}

// A user is never in the waiting pool and a room at the same time.
func TestPoolRoomExclusivity(t *testing.T) {
	m, mr := newTestMatcher(t)
	ctx := context.Background()
	u1, u2 := newUser(t), newUser(t)

	m.Enroll(ctx, u1)
	m.Enroll(ctx, u2)
	if _, err := m.TryMatch(ctx); err != nil {
		t.Fatalf("try match: %v", err)
	}

	for _, u := range []domain.UserID{u1, u2} {
		if ok, _ := mr.IsMember(waitingPoolKey, u.String()); ok {
			t.Fatalf("%s is paired and still in the waiting pool", u)
		}
	}
}

func TestConcurrentTryMatchNoOverlap(t *testing.T) {
	m, _ := newTestMatcher(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := m.Enroll(ctx, newUser(t)); err != nil {
			t.Fatalf("enroll: %v", err)
		}
	}

	var mu sync.Mutex
	var matches []port.Match
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			match, err := m.TryMatch(ctx)
			if err != nil {
				t.Errorf("try match: %v", err)
				return
			}
			mu.Lock()
			matches = append(matches, match)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	seen := make(map[domain.UserID]bool)
	for _, match := range matches {
		for _, u := range []domain.UserID{match.User1, match.User2} {
			if seen[u] {
				t.Fatalf("user %s appears in two matches", u)
			}
			seen[u] = true
		}
	}
}

func TestLeaveIdempotent(t *testing.T) {
	m, _ := newTestMatcher(t)
	ctx := context.Background()
	u1, u2 := newUser(t), newUser(t)

	m.Enroll(ctx, u1)
	m.Enroll(ctx, u2)
	match, err := m.TryMatch(ctx)
	if err != nil {
		t.Fatalf("try match: %v", err)
	}

	partner, ok, err := m.Leave(ctx, match.User1)
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	if !ok || partner != match.User2 {
		t.Fatalf("leave = (%s, %v), want (%s, true)", partner, ok, match.User2)
	}

	// Second leave returns no partner and changes nothing.
	if _, ok, err := m.Leave(ctx, match.User1); err != nil || ok {
		t.Fatalf("second leave = (ok=%v, err=%v), want (false, nil)", ok, err)
	}

	// The partner's side is gone too.
	if _, _, err := m.RoomOf(ctx, match.User2); !errors.Is(err, domain.ErrNotPaired) {
		t.Fatalf("partner room error = %v, want ErrNotPaired", err)
	}
	if _, ok, _ := m.Leave(ctx, match.User2); ok {
		t.Fatal("partner leave after teardown reported a room")
	}
}

func TestVideoReadyFlags(t *testing.T) {
	m, _ := newTestMatcher(t)
	ctx := context.Background()
	u1, u2 := newUser(t), newUser(t)

	m.Enroll(ctx, u1)
	m.Enroll(ctx, u2)
	match, err := m.TryMatch(ctx)
	if err != nil {
		t.Fatalf("try match: %v", err)
	}

	if both, _ := m.BothReadyForVideo(ctx, match.RoomID); both {
		t.Fatal("both ready before anyone signalled")
	}

	if err := m.MarkReadyForVideo(ctx, match.RoomID, match.User1); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	if both, _ := m.BothReadyForVideo(ctx, match.RoomID); both {
		t.Fatal("both ready after one signal")
	}

	if err := m.MarkReadyForVideo(ctx, match.RoomID, match.User2); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	both, err := m.BothReadyForVideo(ctx, match.RoomID)
	if err != nil {
		t.Fatalf("both ready: %v", err)
	}
	if !both {
		t.Fatal("both signalled but not reported ready")
	}

	// Exactly one offer claim succeeds.
	first, err := m.ClaimOffer(ctx, match.RoomID, match.User2)
	if err != nil {
		t.Fatalf("claim offer: %v", err)
	}
	second, err := m.ClaimOffer(ctx, match.RoomID, match.User1)
	if err != nil {
		t.Fatalf("claim offer: %v", err)
	}
	if !first || second {
		t.Fatalf("claims = (%v, %v), want (true, false)", first, second)
	}
}

func TestMarkReadyOnMissingRoomIsNoop(t *testing.T) {
	m, mr := newTestMatcher(t)
	ctx := context.Background()

	roomID := domain.NewRoomID()
	if err := m.MarkReadyForVideo(ctx, roomID, newUser(t)); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	if mr.Exists(roomKey(roomID.String())) {
		t.Fatal("mark ready resurrected a missing room")
	}
	if both, err := m.BothReadyForVideo(ctx, roomID); err != nil || both {
		t.Fatalf("both ready on missing room = (%v, %v), want (false, nil)", both, err)
	}
}

func TestPresenceLifecycle(t *testing.T) {
	m, _ := newTestMatcher(t)
	ctx := context.Background()
	u := newUser(t)

	user := domain.Identity{ID: u, DisplayName: "Ada", IsAnonymous: false, Avatar: "https://example.com/a.png"}
	if err := m.Announce(ctx, user); err != nil {
		t.Fatalf("announce: %v", err)
	}

	profile, err := m.Lookup(ctx, u)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	want := user.Profile()
	if profile != want {
		t.Fatalf("profile = %+v, want %+v", profile, want)
	}

	if err := m.Retire(ctx, u); err != nil {
		t.Fatalf("retire: %v", err)
	}
	if _, err := m.Lookup(ctx, u); !errors.Is(err, domain.ErrUnknownUser) {
		t.Fatalf("lookup after retire = %v, want ErrUnknownUser", err)
	}
}
