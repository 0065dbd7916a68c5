// Package client is the desktop side of the license system. It fingerprints
// the machine, keeps the sealed license and trial files, talks to the
// license server and decides whether the application may run.
package client
