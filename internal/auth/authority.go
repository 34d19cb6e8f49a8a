package auth

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/channelgrid/stomp-broker/internal/logger"
	"github.com/channelgrid/stomp-broker/internal/store"
)

type userRecord struct {
	Name     string
	Password string
}

// Authority serializes login and logout per username and caches the
// connection id to identity binding in memory. The store decides
// whether a user exists and whether an open session is on record.
type Authority struct {
	store store.Querier

	// user rows already seen this run; credentials never change within
	// this system, so a TTL-bounded cache saves one store round trip on
	// repeat logins
	users *expirable.LRU[string, *userRecord]

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-username login serialization

	connections sync.Map // connection id -> username
}

func NewAuthority(querier store.Querier) *Authority {
	return &Authority{
		store: querier,
		users: expirable.NewLRU[string, *userRecord](256, nil, time.Hour),
		locks: make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex serializing all login activity for one
// username.
func (a *Authority) userLock(username string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.locks[username]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[username] = lock
	}
	return lock
}

// Identity returns the username bound to the connection, if any
func (a *Authority) Identity(connID int) (string, bool) {
	value, ok := a.connections.Load(connID)
	if !ok {
		return "", false
	}
	return value.(string), true
}

// Login runs the full login state machine for one connection. The
// check-then-bind sequence is atomic per username, two concurrent
// attempts for the same user cannot both succeed.
func (a *Authority) Login(connID int, username, password string) Outcome {
	logger.DebugF("[%d] Login attempt for user %s", connID, username)

	if _, ok := a.connections.Load(connID); ok {
		logger.InfoF("[%d] Login failed: %s", connID, ClientAlreadyConnected)
		return ClientAlreadyConnected
	}

	lock := a.userLock(username)
	lock.Lock()
	defer lock.Unlock()

	user, err := a.fetchUser(username)
	if err != nil {
		logger.ErrorF("[%d] Fail to look up user %s, details: %v", connID, username, err)
		return StoreUnavailable
	}

	if user == nil {
		return a.registerUser(connID, username, password)
	}

	if user.Password != password {
		logger.InfoF("[%d] Login failed: %s", connID, WrongPassword)
		return WrongPassword
	}

	open, err := a.hasOpenSession(username)
	if err != nil {
		logger.ErrorF("[%d] Fail to check open sessions for %s, details: %v", connID, username, err)
		return StoreUnavailable
	}
	if open {
		logger.InfoF("[%d] Login failed: %s", connID, AlreadyLoggedIn)
		return AlreadyLoggedIn
	}

	if err := a.recordLogin(username); err != nil {
		logger.ErrorF("[%d] Fail to record login for %s, details: %v", connID, username, err)
		return StoreUnavailable
	}
	a.connections.Store(connID, username)
	logger.InfoF("[%d] Login successful: %s", connID, LoggedInSuccessfully)
	return LoggedInSuccessfully
}

// fetchUser loads the user row from cache or store. Returning nil with
// no error means the user does not exist yet.
func (a *Authority) fetchUser(username string) (*userRecord, error) {
	if user, ok := a.users.Get(username); ok {
		return user, nil
	}

	query := fmt.Sprintf(
		"SELECT username, password FROM users WHERE username='%s'",
		store.Escape(username),
	)
	result, err := a.store.Query(query)
	if err != nil {
		return nil, err
	}
	if result.Empty() {
		return nil, nil
	}

	row := result.Rows[0]
	if len(row) < 2 {
		// a users row without a password column is a store-side logic bug,
		// abort the request instead of guessing
		return nil, fmt.Errorf("malformed users row for %s: %v", username, row)
	}

	user := &userRecord{Name: row[0], Password: row[1]}
	a.users.Add(username, user)
	return user, nil
}

// registerUser persists a brand-new user and logs them in
func (a *Authority) registerUser(connID int, username, password string) Outcome {
	logger.InfoF("[%d] New user, registering: %s", connID, username)
	query := fmt.Sprintf(
		"INSERT INTO users (username, password, registration_date) VALUES ('%s', '%s', datetime('now'))",
		store.Escape(username), store.Escape(password),
	)
	if _, err := a.store.Query(query); err != nil {
		logger.ErrorF("[%d] Fail to register user %s, details: %v", connID, username, err)
		return StoreUnavailable
	}

	if err := a.recordLogin(username); err != nil {
		logger.ErrorF("[%d] Fail to record login for %s, details: %v", connID, username, err)
		return StoreUnavailable
	}

	a.users.Add(username, &userRecord{Name: username, Password: password})
	a.connections.Store(connID, username)
	logger.InfoF("[%d] Login successful: %s", connID, AddedNewUser)
	return AddedNewUser
}

func (a *Authority) hasOpenSession(username string) (bool, error) {
	query := fmt.Sprintf(
		"SELECT username FROM login_history WHERE username='%s' AND logout_time IS NULL",
		store.Escape(username),
	)
	result, err := a.store.Query(query)
	if err != nil {
		return false, err
	}
	return !result.Empty(), nil
}

func (a *Authority) recordLogin(username string) error {
	query := fmt.Sprintf(
		"INSERT INTO login_history (username, login_time) VALUES ('%s', datetime('now'))",
		store.Escape(username),
	)
	_, err := a.store.Query(query)
	return err
}

// Logout closes the latest open login_history row for the identity
// bound to the connection and drops the binding. Unknown connection ids
// are a no-op.
func (a *Authority) Logout(connID int) {
	value, loaded := a.connections.LoadAndDelete(connID)
	if !loaded {
		// normal after a clean disconnect, the session already logged out
		logger.DebugF("[%d] Logout attempted for unbound connection", connID)
		return
	}
	username := value.(string)

	lock := a.userLock(username)
	lock.Lock()
	defer lock.Unlock()

	query := fmt.Sprintf(
		"UPDATE login_history SET logout_time=datetime('now') "+
			"WHERE username='%s' AND logout_time IS NULL "+
			"ORDER BY login_time DESC LIMIT 1",
		store.Escape(username),
	)
	if _, err := a.store.Query(query); err != nil {
		logger.ErrorF("[%d] Fail to record logout for %s, details: %v", connID, username, err)
		return
	}
	logger.InfoF("[%d] User %s logged out", connID, username)
}

// RecoverSessions force-closes every login_history row still open from
// a prior run. It must complete before the broker accepts connections,
// the in-memory bindings do not survive a restart.
func (a *Authority) RecoverSessions() error {
	logger.Info("Cleaning up login sessions left open by a previous run")
	result, err := a.store.Query(
		"UPDATE login_history SET logout_time=datetime('now') WHERE logout_time IS NULL",
	)
	if err != nil {
		return fmt.Errorf("fail to recover open sessions: %w", err)
	}

	// marker looks like "SUCCESS:3 rows affected"
	if _, count, found := strings.Cut(result.Marker, ":"); found {
		affected, _, _ := strings.Cut(strings.TrimSpace(count), " ")
		logger.InfoF("Closed %s stale login session(s)", affected)
	}
	return nil
}

// LogFileUpload records a file upload audit row. Failures are logged
// and swallowed, the publish path must not depend on this write.
func (a *Authority) LogFileUpload(username, filename, channel string) {
	logger.DebugF("Tracking file upload, user=%s file=%s channel=%s", username, filename, channel)
	query := fmt.Sprintf(
		"INSERT INTO file_tracking (username, filename, upload_time, game_channel) "+
			"VALUES ('%s', '%s', datetime('now'), '%s')",
		store.Escape(username), store.Escape(filename), store.Escape(channel),
	)
	if _, err := a.store.Query(query); err != nil {
		logger.ErrorF("Fail to track file upload for %s, details: %v", username, err)
	}
}
