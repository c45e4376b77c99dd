package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/huyvnnb/tanin/internal/core/domain"
	"github.com/huyvnnb/tanin/internal/core/port"
)

// SessionService interprets inbound client events and drives the matcher
// and the fan-out gateway. One instance serves every connection; all
// per-identity state lives in the shared store behind the matcher.
type SessionService struct {
	matcher port.Matcher
	gateway port.Gateway
}

func NewSessionService(matcher port.Matcher, gateway port.Gateway) *SessionService {
	return &SessionService{
		matcher: matcher,
		gateway: gateway,
	}
}

// Connect announces the identity's profile and registers the transport
// handle. It must run before any event can be delivered to the identity.
func (s *SessionService) Connect(ctx context.Context, user domain.Identity, c port.Client) error {
	if err := s.matcher.Announce(ctx, user); err != nil {
		return err
	}
	s.gateway.Register(user.ID, c)
	return nil
}

// Disconnect runs the connection's cleanup sequence: unregister, tear down
// the room and notify the partner if one existed, withdraw from the pool,
// retire the profile. The caller ensures it runs exactly once; every step
// is idempotent regardless.
func (s *SessionService) Disconnect(ctx context.Context, user domain.Identity, c port.Client) {
	s.gateway.Unregister(user.ID, c)

	if partner, ok, err := s.matcher.Leave(ctx, user.ID); err != nil {
		log.Error().Err(err).Str("user_id", user.ID.String()).Msg("Error leaving room on disconnect")
	} else if ok {
		s.publish(ctx, partner, domain.PartnerLeftEvent{})
	}

	if err := s.matcher.Withdraw(ctx, user.ID); err != nil {
		log.Error().Err(err).Str("user_id", user.ID.String()).Msg("Error withdrawing from pool on disconnect")
	}
	if err := s.matcher.Retire(ctx, user.ID); err != nil {
		log.Error().Err(err).Str("user_id", user.ID.String()).Msg("Error retiring profile on disconnect")
	}
}

// HandleEvent dispatches one decoded client event. The switch is exhaustive
// over the closed client event set; DecodeClientEvent has already rejected
// everything else.
func (s *SessionService) HandleEvent(ctx context.Context, user domain.Identity, ev domain.ClientEvent) error {
	switch ev.Type {
	case domain.ClientStartSearching:
		return s.startSearching(ctx, user)
	case domain.ClientSendTextMessage:
		return s.sendText(ctx, user.ID, ev.Content)
	case domain.ClientLeaveRoom:
		return s.leaveRoom(ctx, user.ID)
	case domain.ClientVideoCallInitiate:
		return s.initiateVideo(ctx, user.ID)
	case domain.ClientWebRTCOffer:
		return s.relayToPartner(ctx, user.ID, domain.PartnerOfferEvent{SDP: ev.SDP})
	case domain.ClientWebRTCAnswer:
		return s.relayToPartner(ctx, user.ID, domain.PartnerAnswerEvent{SDP: ev.SDP})
	case domain.ClientWebRTCICECandidate:
		return s.relayToPartner(ctx, user.ID, domain.PartnerICECandidateEvent{Candidate: ev.Candidate})
	}
	return nil
}

func (s *SessionService) startSearching(ctx context.Context, user domain.Identity) error {
	// Already paired: searching again is a no-op, never a double booking.
	if _, _, err := s.matcher.RoomOf(ctx, user.ID); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotPaired) {
		return err
	}

	if err := s.matcher.Enroll(ctx, user.ID); err != nil {
		return err
	}

	match, err := s.matcher.TryMatch(ctx)
	if errors.Is(err, domain.ErrNoMatch) {
		return nil
	}
	if err != nil {
		return err
	}

	log.Info().
		Str("room_id", match.RoomID.String()).
		Str("user1", match.User1.String()).
		Str("user2", match.User2.String()).
		Msg("Matched")

	s.publish(ctx, match.User1, domain.MatchedEvent{
		RoomID:  match.RoomID.String(),
		Partner: s.profileOf(ctx, match.User2),
	})
	s.publish(ctx, match.User2, domain.MatchedEvent{
		RoomID:  match.RoomID.String(),
		Partner: s.profileOf(ctx, match.User1),
	})
	return nil
}

func (s *SessionService) sendText(ctx context.Context, sender domain.UserID, content string) error {
	_, partner, err := s.matcher.RoomOf(ctx, sender)
	if errors.Is(err, domain.ErrNotPaired) {
		return nil
	}
	if err != nil {
		return err
	}

	msg, err := domain.NewChatMessage(sender, content, time.Now())
	if err != nil {
		return nil
	}
	s.publish(ctx, partner, domain.NewTextMessageFrom(msg))
	return nil
}

func (s *SessionService) leaveRoom(ctx context.Context, id domain.UserID) error {
	partner, ok, err := s.matcher.Leave(ctx, id)
	if err != nil {
		return err
	}
	if ok {
		s.publish(ctx, partner, domain.PartnerLeftEvent{})
	}
	return nil
}

func (s *SessionService) initiateVideo(ctx context.Context, id domain.UserID) error {
	roomID, partner, err := s.matcher.RoomOf(ctx, id)
	if errors.Is(err, domain.ErrNotPaired) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.matcher.MarkReadyForVideo(ctx, roomID, id); err != nil {
		return err
	}
	both, err := s.matcher.BothReadyForVideo(ctx, roomID)
	if err != nil {
		return err
	}
	if !both {
		s.publish(ctx, partner, domain.PartnerWantsVideoEvent{})
		return nil
	}

	// This signal completed the pair. The claim settles the offering role
	// when both sides complete at once: the winner offers, the loser stays
	// quiet because the winner emits both negotiation events.
	claimed, err := s.matcher.ClaimOffer(ctx, roomID, id)
	if err != nil {
		return err
	}
	if claimed {
		s.publish(ctx, id, domain.StartNegotiationEvent{ShouldCreateOffer: true})
		s.publish(ctx, partner, domain.StartNegotiationEvent{ShouldCreateOffer: false})
	}
	return nil
}

func (s *SessionService) relayToPartner(ctx context.Context, id domain.UserID, ev domain.ServerEvent) error {
	_, partner, err := s.matcher.RoomOf(ctx, id)
	if errors.Is(err, domain.ErrNotPaired) {
		return nil
	}
	if err != nil {
		return err
	}
	s.publish(ctx, partner, ev)
	return nil
}

// profileOf resolves a member's announced profile, falling back to a bare
// anonymous profile when the record has already expired.
func (s *SessionService) profileOf(ctx context.Context, id domain.UserID) domain.Profile {
	profile, err := s.matcher.Lookup(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrUnknownUser) {
			log.Warn().Err(err).Str("user_id", id.String()).Msg("Error looking up profile")
		}
		return domain.Profile{ID: id.String(), DisplayName: "Stranger", IsAnonymous: true}
	}
	return profile
}

func (s *SessionService) publish(ctx context.Context, target domain.UserID, ev domain.ServerEvent) {
	if err := s.gateway.Publish(ctx, target, ev); err != nil {
		log.Error().Err(err).
			Str("user_id", target.String()).
			Str("event_type", string(ev.EventType())).
			Msg("Error publishing event")
	}
}
