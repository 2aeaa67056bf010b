// ABOUTME: Package deploy hands rendered configuration to the monitoring daemon
// ABOUTME: Writes the Targets and Probes files, then runs the reload command once

// Package deploy is the boundary between configuration synthesis and the
// running daemon. A Deployer receives both rendered sections. FileDeployer
// writes them atomically into the daemon's include directory, keeping a
// timestamped backup of the previous files, and then runs the configured
// reload command without a shell. A failed reload is reported in the
// Outcome and as ErrReload; it is never retried.
package deploy
