package osc

import "time"

// LogDirection labels a diagnostics log entry.
type LogDirection int

const (
	LogOut LogDirection = iota
	LogIn
)

func (d LogDirection) String() string {
	if d == LogIn {
		return "IN"
	}
	return "OUT"
}

// LogEntry is one line of the bounded transport diagnostics log.
type LogEntry struct {
	Time      time.Time
	Direction LogDirection
	Text      string
}

const msgLogLimit = 100

// appendLog stores an entry most-recent-first, dropping the oldest once the
// limit is reached. Caller holds n.mu.
func (n *NetworkManager) appendLog(dir LogDirection, text string) {
	entry := LogEntry{Time: time.Now(), Direction: dir, Text: text}
	n.msgLog = append([]LogEntry{entry}, n.msgLog...)
	if len(n.msgLog) > msgLogLimit {
		n.msgLog = n.msgLog[:msgLogLimit]
	}
}

// MessageLog returns a copy of the diagnostics log, most recent first.
func (n *NetworkManager) MessageLog() []LogEntry {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]LogEntry, len(n.msgLog))
	copy(out, n.msgLog)
	return out
}

// ClearMessageLog empties the diagnostics log.
func (n *NetworkManager) ClearMessageLog() {
	n.mu.Lock()
	n.msgLog = nil
	n.mu.Unlock()
}

// SetLogIncoming toggles logging of received messages.
func (n *NetworkManager) SetLogIncoming(enabled bool) {
	n.mu.Lock()
	n.logIncoming = enabled
	n.mu.Unlock()
}

// SetLogOutgoing toggles logging of sent messages.
func (n *NetworkManager) SetLogOutgoing(enabled bool) {
	n.mu.Lock()
	n.logOutgoing = enabled
	n.mu.Unlock()
}
