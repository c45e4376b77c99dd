package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/huyvnnb/tanin/internal/core/domain"
	"github.com/huyvnnb/tanin/internal/core/port"
)

const (
	waitingPoolKey    = "tanin:waiting_pool"
	userRoomKeyPrefix = "tanin:user_room:"
	roomKeyPrefix     = "tanin:room:"
	presenceKeyPrefix = "tanin:presence:"

	fieldUser1      = "user1"
	fieldUser2      = "user2"
	fieldUser1Ready = "user1_ready_video"
	fieldUser2Ready = "user2_ready_video"

	// Presence records are deleted on disconnect; the TTL only bounds
	// leakage when a process dies before cleanup runs.
	presenceTTL = 24 * time.Hour
)

// Matcher implements port.Matcher on Redis. Every instance in every process
// operates on the same keys; all check-then-act steps go through SPOP,
// GETDEL or transactional pipelines.
type Matcher struct {
	rdb goredis.UniversalClient
}

func NewMatcher(rdb goredis.UniversalClient) *Matcher {
	return &Matcher{rdb: rdb}
}

func userRoomKey(id string) string { return userRoomKeyPrefix + id }
func roomKey(id string) string     { return roomKeyPrefix + id }
func presenceKey(id string) string { return presenceKeyPrefix + id }

func (m *Matcher) Enroll(ctx context.Context, id domain.UserID) error {
	if err := m.rdb.SAdd(ctx, waitingPoolKey, id.String()).Err(); err != nil {
		return fmt.Errorf("enroll %s: %w", id, err)
	}
	return nil
}

func (m *Matcher) Withdraw(ctx context.Context, id domain.UserID) error {
	if err := m.rdb.SRem(ctx, waitingPoolKey, id.String()).Err(); err != nil {
		return fmt.Errorf("withdraw %s: %w", id, err)
	}
	return nil
}

// TryMatch pops up to two members in one SPOP. Checking SCARD first and
// popping second would race with concurrent matchers, so the pop itself is
// the size check: a short result re-enrolls the lone member.
func (m *Matcher) TryMatch(ctx context.Context) (port.Match, error) {
	ids, err := m.rdb.SPopN(ctx, waitingPoolKey, 2).Result()
	if err != nil {
		return port.Match{}, fmt.Errorf("pop waiting pool: %w", err)
	}
	if len(ids) < 2 {
		if len(ids) == 1 {
			if err := m.rdb.SAdd(ctx, waitingPoolKey, ids[0]).Err(); err != nil {
				return port.Match{}, fmt.Errorf("re-enroll %s: %w", ids[0], err)
			}
		}
		return port.Match{}, domain.ErrNoMatch
	}

	user1, err := domain.ParseUserID(ids[0])
	if err != nil {
		return port.Match{}, fmt.Errorf("corrupt pool member %q: %w", ids[0], err)
	}
	user2, err := domain.ParseUserID(ids[1])
	if err != nil {
		return port.Match{}, fmt.Errorf("corrupt pool member %q: %w", ids[1], err)
	}

	roomID := domain.NewRoomID()
	pipe := m.rdb.TxPipeline()
	pipe.HSet(ctx, roomKey(roomID.String()), fieldUser1, ids[0], fieldUser2, ids[1])
	pipe.Set(ctx, userRoomKey(ids[0]), roomID.String(), 0)
	pipe.Set(ctx, userRoomKey(ids[1]), roomID.String(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return port.Match{}, fmt.Errorf("create room %s: %w", roomID, err)
	}

	return port.Match{RoomID: roomID, User1: user1, User2: user2}, nil
}

func (m *Matcher) RoomOf(ctx context.Context, id domain.UserID) (domain.RoomID, domain.UserID, error) {
	roomStr, err := m.rdb.Get(ctx, userRoomKey(id.String())).Result()
	if err == goredis.Nil {
		return domain.RoomID{}, domain.UserID{}, domain.ErrNotPaired
	}
	if err != nil {
		return domain.RoomID{}, domain.UserID{}, fmt.Errorf("room index for %s: %w", id, err)
	}
	roomID, err := domain.ParseRoomID(roomStr)
	if err != nil {
		return domain.RoomID{}, domain.UserID{}, fmt.Errorf("corrupt room id %q: %w", roomStr, err)
	}

	members, err := m.rdb.HMGet(ctx, roomKey(roomStr), fieldUser1, fieldUser2).Result()
	if err != nil {
		return domain.RoomID{}, domain.UserID{}, fmt.Errorf("room %s members: %w", roomStr, err)
	}
	user1, ok1 := members[0].(string)
	user2, ok2 := members[1].(string)
	if !ok1 || !ok2 {
		// Room hash vanished under the index entry; treat as unpaired.
		return domain.RoomID{}, domain.UserID{}, domain.ErrNotPaired
	}

	partnerStr := user1
	if user1 == id.String() {
		partnerStr = user2
	}
	partner, err := domain.ParseUserID(partnerStr)
	if err != nil {
		return domain.RoomID{}, domain.UserID{}, fmt.Errorf("corrupt member id %q: %w", partnerStr, err)
	}
	return roomID, partner, nil
}

func (m *Matcher) MarkReadyForVideo(ctx context.Context, roomID domain.RoomID, id domain.UserID) error {
	key := roomKey(roomID.String())
	members, err := m.rdb.HMGet(ctx, key, fieldUser1, fieldUser2).Result()
	if err != nil {
		return fmt.Errorf("room %s members: %w", roomID, err)
	}
	var field string
	switch {
	case members[0] == id.String():
		field = fieldUser1Ready
	case members[1] == id.String():
		field = fieldUser2Ready
	default:
		// Room gone or id not a member.
		return nil
	}
	if err := m.rdb.HSet(ctx, key, field, "1").Err(); err != nil {
		return fmt.Errorf("mark ready in %s: %w", roomID, err)
	}
	return nil
}

func (m *Matcher) BothReadyForVideo(ctx context.Context, roomID domain.RoomID) (bool, error) {
	flags, err := m.rdb.HMGet(ctx, roomKey(roomID.String()), fieldUser1Ready, fieldUser2Ready).Result()
	if err != nil {
		return false, fmt.Errorf("room %s ready flags: %w", roomID, err)
	}
	return flags[0] == "1" && flags[1] == "1", nil
}

// ClaimOffer settles the offering role with HSETNX on the room hash: the
// first caller wins, every later caller loses. The claim is torn down with
// the room.
func (m *Matcher) ClaimOffer(ctx context.Context, roomID domain.RoomID, id domain.UserID) (bool, error) {
	claimed, err := m.rdb.HSetNX(ctx, roomKey(roomID.String()), "offerer", id.String()).Result()
	if err != nil {
		return false, fmt.Errorf("claim offer in %s: %w", roomID, err)
	}
	return claimed, nil
}

// Leave claims the caller's index entry with GETDEL. The atomic claim makes
// double-leave exactly idempotent: whichever call loses the claim sees no
// room and reports ok=false.
func (m *Matcher) Leave(ctx context.Context, id domain.UserID) (domain.UserID, bool, error) {
	roomStr, err := m.rdb.GetDel(ctx, userRoomKey(id.String())).Result()
	if err == goredis.Nil {
		return domain.UserID{}, false, nil
	}
	if err != nil {
		return domain.UserID{}, false, fmt.Errorf("claim room index for %s: %w", id, err)
	}

	members, err := m.rdb.HMGet(ctx, roomKey(roomStr), fieldUser1, fieldUser2).Result()
	if err != nil {
		return domain.UserID{}, false, fmt.Errorf("room %s members: %w", roomStr, err)
	}
	user1, ok1 := members[0].(string)
	user2, ok2 := members[1].(string)
	if !ok1 || !ok2 {
		// Partner's teardown won the race; nothing left to notify.
		m.rdb.Del(ctx, roomKey(roomStr))
		return domain.UserID{}, false, nil
	}

	partnerStr := user1
	if user1 == id.String() {
		partnerStr = user2
	}
	partner, err := domain.ParseUserID(partnerStr)
	if err != nil {
		return domain.UserID{}, false, fmt.Errorf("corrupt member id %q: %w", partnerStr, err)
	}

	pipe := m.rdb.TxPipeline()
	pipe.Del(ctx, roomKey(roomStr))
	pipe.Del(ctx, userRoomKey(partnerStr))
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.UserID{}, false, fmt.Errorf("tear down room %s: %w", roomStr, err)
	}
	return partner, true, nil
}

func (m *Matcher) Announce(ctx context.Context, user domain.Identity) error {
	key := presenceKey(user.ID.String())
	anon := "0"
	if user.IsAnonymous {
		anon = "1"
	}
	pipe := m.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"display_name", user.DisplayName,
		"is_anonymous", anon,
		"avatar", user.Avatar,
	)
	pipe.Expire(ctx, key, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("announce %s: %w", user.ID, err)
	}
	return nil
}

func (m *Matcher) Lookup(ctx context.Context, id domain.UserID) (domain.Profile, error) {
	fields, err := m.rdb.HGetAll(ctx, presenceKey(id.String())).Result()
	if err != nil {
		return domain.Profile{}, fmt.Errorf("lookup %s: %w", id, err)
	}
	if len(fields) == 0 {
		return domain.Profile{}, domain.ErrUnknownUser
	}
	return domain.Profile{
		ID:          id.String(),
		DisplayName: fields["display_name"],
		IsAnonymous: fields["is_anonymous"] == "1",
		Avatar:      fields["avatar"],
	}, nil
}

func (m *Matcher) Retire(ctx context.Context, id domain.UserID) error {
	if err := m.rdb.Del(ctx, presenceKey(id.String())).Err(); err != nil {
		return fmt.Errorf("retire %s: %w", id, err)
	}
	return nil
}
