package types

// LaunchSpec is the fully resolved recipe for one spawn: what to run, where,
// and with which environment. It is rebuilt on every spawn and restart.
type LaunchSpec struct {
	Command    string   `json:"command"`
	Args       []string `json:"args,omitempty"`
	WorkingDir string   `json:"working_dir"`

	// Env is the merged spawn environment in KEY=VALUE form. It may contain
	// injected credentials and must never be logged or emitted.
	Env []string `json:"-"`
}
