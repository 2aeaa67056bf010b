// Package synth renders the target/probe model into the monitoring daemon's
// Targets and Probes configuration sections.
//
// Rendering is strict: Validate runs before any text is produced and a single
// target naming an unknown probe fails the whole synthesis. An empty model is
// only a warning. The Targets section comes from an embedded text/template
// (templates/targets.tmpl) which an operator may override by placing
// targets.tmpl in a configured directory.
package synth
