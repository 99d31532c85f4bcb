// Command starkbot runs the StarkBot agent: a gateway-fronted dispatcher
// that resolves identity and session state, builds a tool-equipped
// conversation, and drives a bounded model/tool loop per inbound message.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
