package pipeline

import "sync"

// State is the batch-size controller's mode.
type State int

const (
	// Ramping: below the ceiling, growing batch size on sustained success.
	Ramping State = iota
	// Steady: at the configured maximum.
	Steady
	// Throttled: recently halved in response to system load.
	Throttled
)

func (s State) String() string {
	switch s {
	case Ramping:
		return "ramping"
	case Steady:
		return "steady"
	case Throttled:
		return "throttled"
	default:
		return "unknown"
	}
}

// Load is one sample of system pressure, in percent.
type Load struct {
	CPU float64
	Mem float64
}

// LoadSampler reports current system load. The production sampler reads the
// host; tests inject fixed values.
type LoadSampler interface {
	Sample() (Load, error)
}

// ControllerOpts bounds and tunes the controller.
type ControllerOpts struct {
	Min          int
	Max          int
	Step         int
	StableStreak int
	CPUThreshold float64
	MemThreshold float64
}

// Controller adapts the target batch size to system load. Size starts at Max
// and stays within [Min, Max]: sampled pressure above either threshold halves
// it, and a streak of successful batches steps it back up.
type Controller struct {
	mu     sync.Mutex
	opts   ControllerOpts
	size   int
	streak int
	state  State
}

// NewController creates a controller at full batch size.
func NewController(opts ControllerOpts) *Controller {
	if opts.Step <= 0 {
		opts.Step = 1
	}
	if opts.StableStreak <= 0 {
		opts.StableStreak = 10
	}
	return &Controller{opts: opts, size: opts.Max, state: Steady}
}

// BatchSize returns the current target batch size.
func (c *Controller) BatchSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// State returns the current controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Observe feeds one load sample before a batch is formed. It returns true if
// the controller throttled, in which case the caller should pause briefly
// before continuing.
func (c *Controller) Observe(load Load) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if load.CPU > c.opts.CPUThreshold || load.Mem > c.opts.MemThreshold {
		c.size = max(c.opts.Min, c.size/2)
		c.streak = 0
		c.state = Throttled
		return true
	}

	if c.streak >= c.opts.StableStreak && c.size < c.opts.Max {
		c.size = min(c.opts.Max, c.size+c.opts.Step)
		c.streak = 0
	}
	if c.size >= c.opts.Max {
		c.state = Steady
	} else {
		c.state = Ramping
	}
	return false
}

// RecordSuccess counts one fully successful batch toward the ramp-up streak.
func (c *Controller) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streak++
}

// RecordFailure resets the streak after a failed batch.
func (c *Controller) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streak = 0
}
