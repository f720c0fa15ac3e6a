//go:build !unix

package main

import "os"

// No hangup or user signals here: settings apply on restart and a resync
// only comes from the lock.
var reloadSignal, resyncSignal os.Signal
