// Package main is the entry point for quotaguard.
package main

func main() {
	Execute()
}
