package edge

import (
	"expvar"
	"fmt"
)

// getVarInt returns a process-wide *expvar.Int for the given path,
// creating it on first use. Published under the "edge" namespace the way
// routedns publishes its own counters under "routedns".
func getVarInt(base, id, name string) *expvar.Int {
	fullname := fmt.Sprintf("edge.%s.%s.%s", base, id, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Int)
	}
	return expvar.NewInt(fullname)
}
