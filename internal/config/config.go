// Package config gathers the process-wide flags that the original
// tool kept as global state into one immutable value passed
// explicitly through the call chain (see spec.md Design Notes §9,
// "Global option state").
package config

import "time"

// Config is the immutable configuration for one hpnscp invocation.
// It is built once from the parsed CLI flags and never mutated after
// that; every collaborator that needs a setting takes it as an
// explicit argument or field rather than reading process-wide state.
type Config struct {
	// Verbose is the verbosity ladder: -1 quiet (-q), 0 default, and
	// one more per -v; 2 and above all log at debug level.
	Verbose int
	// Recursive enables directory recursion (-r).
	Recursive bool
	// PreserveTimes applies T records for mtime/atime (-p).
	PreserveTimes bool
	// ForceDirectoryTarget treats the destination as a directory
	// even if it doesn't look like one (-d).
	ForceDirectoryTarget bool
	// Resume enables the prefix-hash resume negotiation (-Z).
	Resume bool

	// CompressionPassthrough and CipherPassthrough are forwarded
	// verbatim to the secure-channel program invocation; this tool
	// does not interpret them itself.
	CompressionPassthrough bool
	CipherPassthrough      string

	// IdentityFile, ConfigFile, JumpHost, Port, ProgramPath and
	// RemoteProgramPath configure how the peer subprocess is spawned.
	// Process plumbing itself is out of scope (spec.md §1); these
	// fields exist only to be forwarded to that external collaborator.
	IdentityFile     string
	ConfigFile       string
	JumpHost         string
	Port             int
	ProgramPath      string
	RemoteProgramPath string

	// BandwidthLimitKbps is the target transfer rate in kilobits per
	// second; zero or negative disables the limiter.
	BandwidthLimitKbps int

	// RefillInterval is carried in the configuration but not read by
	// the bandwidth limiter: NewBWLimiter is built from
	// BandwidthLimitKbps alone and refills its budget continuously.
	RefillInterval time.Duration
}

// Default returns a Config with the tool's default values.
func Default() Config {
	return Config{
		Verbose:        0,
		RefillInterval: 100 * time.Millisecond,
	}
}
