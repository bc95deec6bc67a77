package offload

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

func dumpVTP(t *testing.T, router *mux.Router, name string) (int, string) {
	req := httptest.NewRequest("GET", "/offload/dump-vtp?netdev="+name, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Code, w.Body.String()
}

func TestDumpVTP(t *testing.T) {
	f := newFixture(t)

	f1 := ingressFlowFor(0x10, 0x01)
	f.putWait(f1, nil, OpAdd)
	f2 := tnlPopFlowFor(0x20, 0x01)
	f.putWait(f2, nil, OpAdd)

	router := mux.NewRouter()
	f.engine.HandleHTTP(router)

	code, body := dumpVTP(t, router, "vxlan0")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "INGRESS flow:\n")
	require.Contains(t, body, fmt.Sprintf("%s, netdev:dummy0\n", f1.Ufid))
	require.Contains(t, body, "TNL_POP flow:\n")
	require.Contains(t, body, fmt.Sprintf("%s, ref:1\n", f2.Ufid))
	require.Contains(t, body, "MERGED flow:\n")
	require.Contains(t, body, f1.Ufid.XOR(f2.Ufid).String()+"\n")
}

func TestDumpVTPErrors(t *testing.T) {
	f := newFixture(t)

	router := mux.NewRouter()
	f.engine.HandleHTTP(router)

	code, _ := dumpVTP(t, router, "nosuchdev")
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = dumpVTP(t, router, "dummy0")
	require.Equal(t, http.StatusBadRequest, code, "dump of a non-vport netdev is refused")

	req := httptest.NewRequest("GET", "/offload/dump-vtp", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
