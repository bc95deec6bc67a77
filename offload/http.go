package offload

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/flowmesh/flowmesh/netdev"
)

// HandleHTTP registers the engine's introspection endpoints.
func (e *Engine) HandleHTTP(muxRouter *mux.Router) {

	muxRouter.Methods("GET").Path("/offload/dump-vtp").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.FormValue("netdev")
		if name == "" {
			http.Error(w, "missing netdev argument", http.StatusBadRequest)
			return
		}
		dump, err := e.DumpVTP(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, dump)
	})

	muxRouter.Methods("GET").Path("/status").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, e.Status())
	})
}

// DumpVTP renders the composition tables of the named tunnel vport:
// the ingress flows, the tnl-pop flows with their references, and the
// composed ufid of every pair.
func (e *Engine) DumpVTP(name string) (string, error) {
	nd := e.ports.FromName(name)
	if nd == nil {
		return "", errors.Errorf("netdev %q not found", name)
	}
	vp, ok := netdev.AsVport(nd)
	if !ok {
		return "", errors.Errorf("netdev %q not a vport", name)
	}
	aux, ok := vp.OffloadAux().(*Aux)
	if !ok || aux == nil {
		return "", nil
	}

	var b strings.Builder
	aux.mu.RLock()
	defer aux.mu.RUnlock()

	b.WriteString("INGRESS flow:\n")
	for _, in := range aux.ingress {
		fmt.Fprintf(&b, "%s, netdev:%s\n", in.flow.Ufid, in.ingressNetdev.Name())
	}

	b.WriteString("TNL_POP flow:\n")
	for _, tnl := range aux.tnlPop {
		fmt.Fprintf(&b, "%s, ref:%d\n", tnl.flow.Ufid, tnl.ref)
	}

	b.WriteString("MERGED flow:\n")
	for _, in := range aux.ingress {
		for _, tnl := range aux.tnlPop {
			fmt.Fprintf(&b, "%s\n", composedUFID(in, tnl))
		}
	}
	return b.String(), nil
}
