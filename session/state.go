package session

// State is the lifecycle state of the session.
//
//	Unauthenticated -> Authenticating -> Authenticated
//	Unauthenticated -> Authenticated  (restored from storage)
//	Authenticated   -> RefreshPending -> Authenticated | Unauthenticated
//	any             -> Unauthenticated (logout)
type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
	RefreshPending
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case RefreshPending:
		return "refresh_pending"
	default:
		return "unknown"
	}
}

// canTransition lists the moves the manager makes. Logout may move from anywhere.
func canTransition(from, to State) bool {
	if to == Unauthenticated {
		return true
	}
	switch from {
	case Unauthenticated:
		return to == Authenticating || to == Authenticated
	case Authenticating:
		return to == Authenticated || to == Authenticating
	case Authenticated:
		return to == RefreshPending || to == Authenticating || to == Authenticated
	case RefreshPending:
		return to == Authenticated
	}
	return false
}
