// Package config loads and hot-reloads the beamline topology: the set of
// controls the Automator should register, each flow path's pump/coflow/
// valve wiring, and the default rate/acceleration/pressure values used
// to pre-fill purge/equilibrate/switch parameters.
//
// This is control-plane state read once at startup and re-read whenever
// the backing file changes; it is never on the scheduler's hot path.
package config

// Topology is the declarative shape of one beamline instance.
type Topology struct {
	Controls  []ControlConfig  `json:"controls"`
	FlowPaths []FlowPathConfig `json:"flow_paths"`

	// CheckSecret is the base64-encoded HMAC key used to sign and verify
	// check-barrier response tokens (internal/auth.CheckTokenService). Left
	// empty by DefaultTopology and filled in with a random value the first
	// time Loader.Load bootstraps the file, then persisted so it's stable
	// across restarts.
	CheckSecret string `json:"check_secret"`

	// Operators lists who may answer a check barrier and the argon2id hash
	// of their console password (internal/auth.HashPassword). Populate by
	// hand, or with "beamauto check hash-password".
	Operators []OperatorConfig `json:"operators"`
}

// OperatorConfig names one operator allowed to answer check barriers.
type OperatorConfig struct {
	Name         string `json:"name"`
	PasswordHash string `json:"password_hash"`
}

// ControlConfig describes one Automator control to register.
type ControlConfig struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // "pump", "coflow", "autosampler", "exposure", ...
}

// FlowPathConfig describes one HPLC flow path's instrument wiring and
// default pump-engine parameters.
type FlowPathConfig struct {
	ID int `json:"id"`

	PumpControl       string `json:"pump_control"`
	CoflowControl     string `json:"coflow_control"`
	SelectorValveName string `json:"selector_valve_name"`
	OutletValveName   string `json:"outlet_valve_name"`
	PurgeValveName    string `json:"purge_valve_name"`

	PurgePosition  int `json:"purge_position"`
	ColumnPosition int `json:"column_position"`

	DefaultPurgeRate    float64 `json:"default_purge_rate"`
	DefaultPurgeAccel   float64 `json:"default_purge_accel"`
	DefaultPurgeMaxPSI  float64 `json:"default_purge_max_psi"`
	DefaultEquilRate    float64 `json:"default_equil_rate"`
	DefaultEquilAccel   float64 `json:"default_equil_accel"`
	DefaultPressureLimit float64 `json:"default_pressure_limit"`

	Buffers []BufferConfig `json:"buffers"`
}

// BufferConfig seeds one buffer position's inventory entry.
type BufferConfig struct {
	Position    int     `json:"position"`
	Description string  `json:"description"`
	Volume      float64 `json:"volume"`
}

// DefaultTopology returns a minimal single-flow-path bootstrap topology,
// used when no topology file exists yet.
func DefaultTopology() *Topology {
	return &Topology{
		Controls: []ControlConfig{
			{Name: "pump1", Kind: "pump"},
			{Name: "coflow1", Kind: "coflow"},
			{Name: "exposure", Kind: "exposure"},
			{Name: "autosampler", Kind: "autosampler"},
		},
		FlowPaths: []FlowPathConfig{
			{
				ID:                   1,
				PumpControl:          "pump1",
				CoflowControl:        "coflow1",
				SelectorValveName:    "selector1",
				OutletValveName:      "outlet1",
				PurgeValveName:       "purge1",
				PurgePosition:        1,
				ColumnPosition:       0,
				DefaultPurgeRate:     5.0,
				DefaultPurgeAccel:    2.0,
				DefaultPurgeMaxPSI:   50.0,
				DefaultEquilRate:     1.0,
				DefaultEquilAccel:    0.5,
				DefaultPressureLimit: 200.0,
				Buffers: []BufferConfig{
					{Position: 1, Description: "buffer A", Volume: 1000.0},
				},
			},
		},
	}
}
