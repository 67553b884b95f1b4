// Package main is the entry point for docmap.
package main

func main() {
	Execute()
}
