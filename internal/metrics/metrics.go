// Package metrics exposes harness counters over the expvar endpoint.
package metrics

import (
	"expvar"
	"net/http"
)

var (
	// RequestsProxied counts client requests relayed to the reference server.
	RequestsProxied = expvar.NewInt("banksia_requests_proxied")
	// RequestsRejected counts client requests refused by authorization.
	RequestsRejected = expvar.NewInt("banksia_requests_rejected")
	// ListenersFired counts listener matches across all runs.
	ListenersFired = expvar.NewInt("banksia_listeners_fired")
	// RunsStarted counts test procedure starts.
	RunsStarted = expvar.NewInt("banksia_runs_started")
	// RunsFinished counts test procedures reaching their terminal state.
	RunsFinished = expvar.NewInt("banksia_runs_finished")
	// TickErrors counts failed wait-timer iterations.
	TickErrors = expvar.NewInt("banksia_tick_errors")
)

// Handler serves the expvar dump.
func Handler() http.Handler {
	return expvar.Handler()
}
