package capture

import "fmt"

// PairFilter builds the BPF expression matching traffic between the two
// hosts, both directions, and nothing else. The expression is compiled
// by the handle itself so the program matches the handle's link type;
// the "any" pseudo-device does not use Ethernet framing.
func PairFilter(hostA, hostB string) string {
	return fmt.Sprintf("(src host %s and dst host %s) or (src host %s and dst host %s)",
		hostA, hostB, hostB, hostA)
}
