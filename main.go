// Command hybridmem simulates a two-tier hybrid memory controller.
package main

import "github.com/sarchlab/hybridmem/cmd"

func main() {
	cmd.Execute()
}
