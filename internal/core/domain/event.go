package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrMalformedEvent = errors.New("malformed event")
)

// ClientEventType discriminates the closed set of events a client may send.
type ClientEventType string

const (
	ClientStartSearching     ClientEventType = "start_searching"
	ClientSendTextMessage    ClientEventType = "send_text_message"
	ClientLeaveRoom          ClientEventType = "leave_room"
	ClientVideoCallInitiate  ClientEventType = "video_call_initiate"
	ClientWebRTCOffer        ClientEventType = "webrtc_offer"
	ClientWebRTCAnswer       ClientEventType = "webrtc_answer"
	ClientWebRTCICECandidate ClientEventType = "webrtc_ice_candidate"
)

// ClientEvent is one inbound client event. Only the fields relevant to Type
// are populated; SDP and Candidate are relayed opaquely, never inspected.
type ClientEvent struct {
	Type      ClientEventType `json:"event_type"`
	Content   string          `json:"content,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// DecodeClientEvent parses an inbound frame. Callers drop the frame on any
// error; malformed input never produces feedback to the sender.
func DecodeClientEvent(data []byte) (ClientEvent, error) {
	var ev ClientEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ClientEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	switch ev.Type {
	case ClientStartSearching, ClientLeaveRoom, ClientVideoCallInitiate:
	case ClientSendTextMessage:
		if ev.Content == "" {
			return ClientEvent{}, fmt.Errorf("%w: empty content", ErrMalformedEvent)
		}
	case ClientWebRTCOffer, ClientWebRTCAnswer:
		if len(ev.SDP) == 0 {
			return ClientEvent{}, fmt.Errorf("%w: missing sdp", ErrMalformedEvent)
		}
	case ClientWebRTCICECandidate:
		if len(ev.Candidate) == 0 {
			return ClientEvent{}, fmt.Errorf("%w: missing candidate", ErrMalformedEvent)
		}
	default:
		return ClientEvent{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	return ev, nil
}

// ServerEventType discriminates the closed set of events the server emits.
type ServerEventType string

const (
	ServerMatched             ServerEventType = "matched"
	ServerNewTextMessage      ServerEventType = "new_text_message"
	ServerPartnerLeft         ServerEventType = "partner_left"
	ServerError               ServerEventType = "error"
	ServerPartnerOffer        ServerEventType = "partner_webrtc_offer"
	ServerPartnerAnswer       ServerEventType = "partner_webrtc_answer"
	ServerPartnerICECandidate ServerEventType = "partner_webrtc_ice_candidate"
	ServerPartnerWantsVideo   ServerEventType = "partner_wants_video"
	ServerStartNegotiation    ServerEventType = "start_webrtc_negotiation"
)

// ServerEvent is the tagged-variant type for outbound events. Concrete
// variants carry their own payload; the discriminant travels in the
// envelope written by EncodeServerEvent.
type ServerEvent interface {
	EventType() ServerEventType
}

type MatchedEvent struct {
	RoomID  string  `json:"room_id"`
	Partner Profile `json:"partner"`
}

func (MatchedEvent) EventType() ServerEventType { return ServerMatched }

type MessagePayload struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type NewTextMessageEvent struct {
	Message MessagePayload `json:"message"`
}

func (NewTextMessageEvent) EventType() ServerEventType { return ServerNewTextMessage }

func NewTextMessageFrom(msg ChatMessage) NewTextMessageEvent {
	return NewTextMessageEvent{Message: MessagePayload{
		ID:        msg.ID.String(),
		SenderID:  msg.SenderID.String(),
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	}}
}

type PartnerLeftEvent struct{}

func (PartnerLeftEvent) EventType() ServerEventType { return ServerPartnerLeft }

// ErrorEvent is defined for protocol completeness. No handler path emits it
// today; malformed input is dropped without feedback.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (ErrorEvent) EventType() ServerEventType { return ServerError }

type PartnerOfferEvent struct {
	SDP json.RawMessage `json:"sdp"`
}

func (PartnerOfferEvent) EventType() ServerEventType { return ServerPartnerOffer }

type PartnerAnswerEvent struct {
	SDP json.RawMessage `json:"sdp"`
}

func (PartnerAnswerEvent) EventType() ServerEventType { return ServerPartnerAnswer }

type PartnerICECandidateEvent struct {
	Candidate json.RawMessage `json:"candidate"`
}

func (PartnerICECandidateEvent) EventType() ServerEventType { return ServerPartnerICECandidate }

type PartnerWantsVideoEvent struct{}

func (PartnerWantsVideoEvent) EventType() ServerEventType { return ServerPartnerWantsVideo }

type StartNegotiationEvent struct {
	ShouldCreateOffer bool `json:"should_create_offer"`
}

func (StartNegotiationEvent) EventType() ServerEventType { return ServerStartNegotiation }

// EncodeServerEvent flattens the variant's payload fields next to the
// event_type discriminant in one JSON object.
func EncodeServerEvent(ev ServerEvent) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	tag, err := json.Marshal(ev.EventType())
	if err != nil {
		return nil, err
	}
	fields["event_type"] = tag
	return json.Marshal(fields)
}

// DecodeServerEvent is the inverse of EncodeServerEvent. The server itself
// only forwards encoded bytes; this exists for clients and tests.
func DecodeServerEvent(data []byte) (ServerEvent, error) {
	var env struct {
		Type ServerEventType `json:"event_type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	decode := func(ev ServerEvent) (ServerEvent, error) {
		if err := json.Unmarshal(data, ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		return ev, nil
	}
	switch env.Type {
	case ServerMatched:
		return decode(&MatchedEvent{})
	case ServerNewTextMessage:
		return decode(&NewTextMessageEvent{})
	case ServerPartnerLeft:
		return decode(&PartnerLeftEvent{})
	case ServerError:
		return decode(&ErrorEvent{})
	case ServerPartnerOffer:
		return decode(&PartnerOfferEvent{})
	case ServerPartnerAnswer:
		return decode(&PartnerAnswerEvent{})
	case ServerPartnerICECandidate:
		return decode(&PartnerICECandidateEvent{})
	case ServerPartnerWantsVideo:
		return decode(&PartnerWantsVideoEvent{})
	case ServerStartNegotiation:
		return decode(&StartNegotiationEvent{})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}
