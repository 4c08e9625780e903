package statusserver

import "sync/atomic"

// Metrics counts status server traffic.
type Metrics struct {
	Requests       atomic.Uint64
	ClientErrors   atomic.Uint64
	ServerErrors   atomic.Uint64
	HealthChecks   atomic.Uint64
	LoginAttempts  atomic.Uint64
	FailedLogins   atomic.Uint64
	SocketsOpened  atomic.Uint64
	SocketMessages atomic.Uint64
}

type MetricsSnapshot struct {
	Requests       uint64 `json:"requests"`
	ClientErrors   uint64 `json:"client_errors"`
	ServerErrors   uint64 `json:"server_errors"`
	HealthChecks   uint64 `json:"health_checks"`
	LoginAttempts  uint64 `json:"login_attempts"`
	FailedLogins   uint64 `json:"failed_logins"`
	SocketsOpened  uint64 `json:"sockets_opened"`
	SocketMessages uint64 `json:"socket_messages"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Requests:       m.Requests.Load(),
		ClientErrors:   m.ClientErrors.Load(),
		ServerErrors:   m.ServerErrors.Load(),
		HealthChecks:   m.HealthChecks.Load(),
		LoginAttempts:  m.LoginAttempts.Load(),
		FailedLogins:   m.FailedLogins.Load(),
		SocketsOpened:  m.SocketsOpened.Load(),
		SocketMessages: m.SocketMessages.Load(),
	}
}
