package roomsync

import (
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// MetricsSink is the injected diagnostics capability called for in place of
// a process-wide counter registry: the host owns where these numbers go.
// Methods are called from the watchdog, socket dispatch, playback and
// pusher goroutines, so every method must be safe for concurrent use and
// must not block on I/O.
type MetricsSink interface {
	IncConnectAttempt()
	IncConnectSuccess()
	IncDisconnect(reason string)
	ObservePingRTT(d time.Duration)
	IncPokeApplied(patchCount int)
	IncMutationPushed()
	IncMutationSkipped()
}

type noopMetrics struct{}

func (noopMetrics) IncConnectAttempt()             {}
func (noopMetrics) IncConnectSuccess()             {}
func (noopMetrics) IncDisconnect(reason string)    {}
func (noopMetrics) ObservePingRTT(d time.Duration) {}
func (noopMetrics) IncPokeApplied(patchCount int)  {}
func (noopMetrics) IncMutationPushed()             {}
func (noopMetrics) IncMutationSkipped()            {}

// Snapshot is a point-in-time read of a VictoriaMetricsSink's counters,
// returned by Client.Stats.
type Snapshot struct {
	ConnectAttempts  uint64
	ConnectSuccesses uint64
	Disconnects      uint64
	PokesApplied     uint64
	MutationsPushed  uint64
	MutationsSkipped uint64
}

// VictoriaMetricsSink is the default non-noop MetricsSink, backed by a
// scoped *metrics.Set so multiple Client instances in the same process do
// not collide in the global registry.
type VictoriaMetricsSink struct {
	set *metrics.Set

	connectAttempts  *metrics.Counter
	connectSuccesses *metrics.Counter
	disconnects      *metrics.Counter
	pingRTT          *metrics.Histogram
	pokesApplied     *metrics.Counter
	patchesApplied   *metrics.Counter
	mutationsPushed  *metrics.Counter
	mutationsSkipped *metrics.Counter
}

func NewVictoriaMetricsSink(namePrefix string) *VictoriaMetricsSink {
	set := metrics.NewSet()
	return &VictoriaMetricsSink{
		set:              set,
		connectAttempts:  set.NewCounter(namePrefix + `_connect_attempts_total`),
		connectSuccesses: set.NewCounter(namePrefix + `_connect_success_total`),
		disconnects:      set.NewCounter(namePrefix + `_disconnects_total`),
		pingRTT:          set.NewHistogram(namePrefix + `_ping_rtt_seconds`),
		pokesApplied:     set.NewCounter(namePrefix + `_pokes_applied_total`),
		patchesApplied:   set.NewCounter(namePrefix + `_patches_applied_total`),
		mutationsPushed:  set.NewCounter(namePrefix + `_mutations_pushed_total`),
		mutationsSkipped: set.NewCounter(namePrefix + `_mutations_skipped_total`),
	}
}

// Set returns the underlying registry so the host can register it with its
// own /metrics exposition handler (metrics.WritePrometheus).
func (self *VictoriaMetricsSink) Set() *metrics.Set {
	return self.set
}

func (self *VictoriaMetricsSink) IncConnectAttempt()          { self.connectAttempts.Inc() }
func (self *VictoriaMetricsSink) IncConnectSuccess()          { self.connectSuccesses.Inc() }
func (self *VictoriaMetricsSink) IncDisconnect(reason string) { self.disconnects.Inc() }
func (self *VictoriaMetricsSink) ObservePingRTT(d time.Duration) {
	self.pingRTT.Update(d.Seconds())
}
func (self *VictoriaMetricsSink) IncPokeApplied(patchCount int) {
	self.pokesApplied.Inc()
	self.patchesApplied.Add(patchCount)
}
func (self *VictoriaMetricsSink) IncMutationPushed()  { self.mutationsPushed.Inc() }
func (self *VictoriaMetricsSink) IncMutationSkipped() { self.mutationsSkipped.Inc() }

func (self *VictoriaMetricsSink) Snapshot() Snapshot {
	return Snapshot{
		ConnectAttempts:  uint64(self.connectAttempts.Get()),
		ConnectSuccesses: uint64(self.connectSuccesses.Get()),
		Disconnects:      uint64(self.disconnects.Get()),
		PokesApplied:     uint64(self.pokesApplied.Get()),
		MutationsPushed:  uint64(self.mutationsPushed.Get()),
		MutationsSkipped: uint64(self.mutationsSkipped.Get()),
	}
}
