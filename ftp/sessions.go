package ftp

import (
	"log/slog"
	"net"
	"sync"

	"github.com/telebroad/ftpgateway/filesystem"
	"github.com/telebroad/ftpgateway/tools"
)

type sessionState int

const (
	stateGreeting sessionState = iota
	stateAwaitingCommand
	stateDispatching
	stateAwaitingRenameTarget
	stateAwaitingDataTransfer
	stateTerminated
)

var sessionStateNames = [...]string{
	stateGreeting:             "greeting",
	stateAwaitingCommand:      "awaiting-command",
	stateDispatching:          "dispatching",
	stateAwaitingRenameTarget: "awaiting-rename-target",
	stateAwaitingDataTransfer: "awaiting-data-transfer",
	stateTerminated:           "terminated",
}

func (s sessionState) String() string {
	return sessionStateNames[s]
}

// Session represents an individual client FTP session.
// It is driven by a single goroutine, so none of its fields need locking.
type Session struct {
	ID         string                  // uuid of the session
	ftpServer  *Server                 // The server the session belongs to
	conn       net.Conn                // The connection to the client
	readWriter *tools.BufLogReadWriter // ReadWriter for the connection (used for writing responses)
	lines      *LineReader             // command line parser over readWriter
	fs         filesystem.Provider     // storage owned by this session
	pasv       *passiveChannel         // accepted data connection waiting for a transfer
	renameFrom string                  // File to be renamed
	state      sessionState
	lastCode   int   // last reply code sent, for metrics
	writeErr   error // first failed reply write, ends the session
	handlers   handlerMap
	logger     *slog.Logger
}

// Close drops the control connection, which unblocks a pending read and ends the session.
func (s *Session) Close() error {
	return s.conn.Close()
}

// SessionManager manages all active sessions.
type SessionManager struct {
	sessions map[string]*Session // Map of active sessions
	lock     sync.RWMutex        // Protects the sessions map
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
	}
}

// Add adds a new session for the client.
func (manager *SessionManager) Add(id string, session *Session) {
	manager.lock.Lock()
	defer manager.lock.Unlock()
	manager.sessions[id] = session
}

// Remove removes a session by its ID.
func (manager *SessionManager) Remove(id string) {
	manager.lock.Lock()
	defer manager.lock.Unlock()
	delete(manager.sessions, id)
}

// Len returns the number of live sessions.
func (manager *SessionManager) Len() int {
	manager.lock.RLock()
	defer manager.lock.RUnlock()
	return len(manager.sessions)
}

// CloseAll closes the control connection of every live session.
// The sessions remove themselves once their goroutine has torn down.
func (manager *SessionManager) CloseAll() {
	manager.lock.RLock()
	defer manager.lock.RUnlock()
	for _, session := range manager.sessions {
		_ = session.Close()
	}
}
