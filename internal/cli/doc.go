// Package cli implements the runlog command: normalizing metric trees,
// replaying them as runs and querying stored runs.
package cli
