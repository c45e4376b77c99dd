package domain

// Identity is the resolved participant behind a connection. It lives for
// the duration of the connection only; the core never persists it.
type Identity struct {
	ID          UserID
	DisplayName string
	IsAnonymous bool
	Avatar      string
}

// Profile is the partner-facing view of an identity, as embedded in the
// matched event.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	IsAnonymous bool   `json:"is_anonymous"`
	Avatar      string `json:"avatar,omitempty"`
}

func (u Identity) Profile() Profile {
	return Profile{
		ID:          u.ID.String(),
		DisplayName: u.DisplayName,
		IsAnonymous: u.IsAnonymous,
		Avatar:      u.Avatar,
	}
}
