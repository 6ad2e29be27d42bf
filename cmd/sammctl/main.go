// Command sammctl drives samm workloads and prints diagnostics.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

func main() {
	execute()
}
