// Package auth owns the login invariant: at most one live session per
// identity, enforced against the external store as the durable source
// of truth.
package auth

// Outcome is the result of a login attempt
type Outcome int

const (
	AddedNewUser Outcome = iota // first login, user registered and logged in
	LoggedInSuccessfully
	WrongPassword
	AlreadyLoggedIn        // an open session exists for this username
	ClientAlreadyConnected // this connection id already holds an identity
	StoreUnavailable       // the store could not be reached or failed the query
)

var outcomeMap = map[Outcome]string{
	AddedNewUser:           "ADDED_NEW_USER",
	LoggedInSuccessfully:   "LOGGED_IN_SUCCESSFULLY",
	WrongPassword:          "WRONG_PASSWORD",
	AlreadyLoggedIn:        "ALREADY_LOGGED_IN",
	ClientAlreadyConnected: "CLIENT_ALREADY_CONNECTED",
	StoreUnavailable:       "STORE_UNAVAILABLE",
}

func (o Outcome) String() string {
	return outcomeMap[o]
}

// Success reports whether the outcome established a logged-in session
func (o Outcome) Success() bool {
	return o == AddedNewUser || o == LoggedInSuccessfully
}
