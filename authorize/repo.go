package authorize

import "time"

// Flow is the client-side state of one authorization request, keyed by its
// state parameter.
type Flow struct {
	CodeVerifier string
	Nonce        string
	ReturnURL    string
	CreatedAt    time.Time
	// Code is the first authorization code delivered for the flow.
	Code string
}

type Repo interface {
	Upsert(state string, flow *Flow) error
	Get(state string) (*Flow, error)
	// Bind attaches code to the flow unless a different code is already bound.
	Bind(state, code string) (*Flow, error)
	Delete(state string) error
	// DeleteCreatedBefore drops flows older than t and returns how many went.
	DeleteCreatedBefore(t time.Time) int
}
