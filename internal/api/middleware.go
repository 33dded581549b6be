package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Yehielamor/orbis-ethica/internal/identity"
)

type signerKey struct{}

// requireSignedRequest enforces §4.1's signed-request contract on mutating
// endpoints: X-Pubkey/X-Timestamp/X-Signature must verify over the
// canonical request string, within the replay window. No pubkey allow-list
// is applied (isKnown is nil): any Ed25519 keypair whose signature verifies
// is accepted, including pubkeys the node has never seen.
func (s *Server) requireSignedRequest(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pubkey := r.Header.Get("X-Pubkey")
		tsHeader := r.Header.Get("X-Timestamp")
		sig := r.Header.Get("X-Signature")
		if pubkey == "" || tsHeader == "" || sig == "" {
			writeError(w, http.StatusUnauthorized, "missing signature headers")
			return
		}
		ts, err := strconv.ParseInt(tsHeader, 10, 64)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "malformed timestamp")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, "body too large or unreadable")
			return
		}
		r.Body.Close()

		if err := identity.AuthenticateRequest(r.Method, r.URL.Path, ts, body, pubkey, sig, time.Now(), nil); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		r2 := r.Clone(r.Context())
		r2.Body = io.NopCloser(newBytesReader(body))
		ctx := withSigner(r2.Context(), pubkey)
		next(w, r2.WithContext(ctx))
	}
}
