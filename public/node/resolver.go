package node

// staticResolver implements internal/rpc.AddressResolver over the
// operator-supplied node-id -> rpc-address table from config.Config;
// there is no dynamic peer discovery in this design, matching the base
// specification's closed-membership assumption for a mesh's node set.
type staticResolver struct {
	addrs map[string]string
}

func newStaticResolver(addrs map[string]string) *staticResolver {
	return &staticResolver{addrs: addrs}
}

func (r *staticResolver) Resolve(nodeID string) (string, bool) {
	addr, ok := r.addrs[nodeID]
	return addr, ok
}
