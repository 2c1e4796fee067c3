// Package main is the memorybank command. `memorybank serve` runs the
// protocol server; the other commands work on the bank directory directly.
package main

func main() {
	Execute()
}
