// Package spaces describes the observation, action and goal shapes an
// environment exposes. Replay buffers read these once, at construction,
// to size their backing storage; no other environment interaction
// happens inside the replay core.
package spaces

// Space is a dense box-style shape descriptor.
type Space struct {
	Shape []int `json:"shape"`
}

// Size returns the flattened element count of the space.
func (s Space) Size() int {
	if len(s.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range s.Shape {
		n *= d
	}
	return n
}

// Env is the minimal environment surface the replay core depends on.
type Env interface {
	// ID identifies the environment (e.g. "FetchReach-v2").
	ID() string

	// ObservationSpace describes a single observation.
	ObservationSpace() Space

	// ActionSpace describes a single action.
	ActionSpace() Space

	// Clone returns a new, independent environment binding with the
	// same shapes. Used by Buffer.Clone.
	Clone() Env
}

// StaticEnv is an Env backed by fixed shape descriptors. The server
// uses it when no live environment process is attached; tests use it
// everywhere.
type StaticEnv struct {
	EnvID       string `json:"env_id"`
	Observation Space  `json:"observation_space"`
	Action      Space  `json:"action_space"`
}

// ID implements Env.
func (e *StaticEnv) ID() string { return e.EnvID }

// ObservationSpace implements Env.
func (e *StaticEnv) ObservationSpace() Space { return e.Observation }

// ActionSpace implements Env.
func (e *StaticEnv) ActionSpace() Space { return e.Action }

// Clone implements Env.
func (e *StaticEnv) Clone() Env {
	cp := *e
	return &cp
}
