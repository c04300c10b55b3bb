package authclient

// Status is the position of the client in the authentication lifecycle.
type Status int

const (
	StatusUninitialized Status = iota
	StatusUnauthenticated
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "UNINITIALIZED"
	case StatusUnauthenticated:
		return "UNAUTHENTICATED"
	case StatusAuthenticated:
		return "AUTHENTICATED"
	default:
		return "UNKNOWN"
	}
}

type User struct {
	ID        string `json:"id,omitempty"`
	FirstName string `json:"firstName"`
	Email     string `json:"email"`
}

// State is the snapshot handed to subscribers.
type State struct {
	User            User   `json:"user"`
	SessionToken    string `json:"sessionToken"`
	IsAuthenticated bool   `json:"isAuthenticated"`
	Status          Status `json:"-"`
}

type eventKind int

const (
	eventAuthenticated eventKind = iota
	eventSignedOut
)

type event struct {
	kind  eventKind
	user  User
	token string
}

func authenticated(user User, token string) event {
	return event{kind: eventAuthenticated, user: user, token: token}
}

func signedOut() event {
	return event{kind: eventSignedOut}
}

// reduce computes the state following ev. It has no side effects.
func reduce(_ State, ev event) State {
	switch ev.kind {
	case eventAuthenticated:
		return State{
			User:            ev.user,
			SessionToken:    ev.token,
			IsAuthenticated: true,
			Status:          StatusAuthenticated,
		}
	default:
		return State{Status: StatusUnauthenticated}
	}
}
