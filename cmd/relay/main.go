// Command relay answers multi-part questions by splitting them into
// sub-questions, routing each to a specialized agent and streaming one
// combined answer.
package main

func main() {
	Execute()
}
