// Command kuntur coordinates a storefront's IP camera sessions and its
// armed state, and serves them to the terminal UI.
package main

func main() {
	Execute()
}
