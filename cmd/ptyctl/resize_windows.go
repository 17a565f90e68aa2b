//go:build windows

package main

// watchResize is a no-op: console resizes are not signalled on Windows.
func watchResize(func()) (stop func()) {
	return func() {}
}
