package versioncontrol

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/relaycore/autoupdate/release"
)

// SignatureHeader is the response header carrying the hex-encoded detached
// signature over the response's canonical signed bytes (spec §6).
const SignatureHeader = "X-Signature"

// InstallationIDHeader optionally carries a client's opaque installation
// identifier, used to gate staged rollouts (SPEC_FULL.md §5). Clients that
// omit it are still served any FullRollout entry.
const InstallationIDHeader = "X-Installation-Id"

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewHandler builds the thin HTTP adapter described in spec §4.3/§6: it
// routes GET /latest, GET /hashes/{version} and GET /releases/{version} onto
// Core's three queries, preserving body-to-signature association. This
// adapter is an external collaborator to the core's pure request/response
// operations — it contains no verification or catalogue logic of its own.
func NewHandler(core *Core, log *zap.Logger) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/latest", latestHandler(core, log)).Methods(http.MethodGet)
	router.HandleFunc("/hashes/{version}", hashForHandler(core, log)).Methods(http.MethodGet)
	router.HandleFunc("/releases/{version}", releaseHandler(core, log)).Methods(http.MethodGet)
	return router
}

func latestHandler(core *Core, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		installationID := []byte(r.Header.Get(InstallationIDHeader))
		resp, sig, err := core.Latest(installationID)
		if err != nil {
			writeError(w, log, err)
			return
		}
		w.Header().Set(SignatureHeader, sig.String())
		writeJSON(w, log, http.StatusOK, resp)
	}
}

func hashForHandler(core *Core, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version, err := release.NewVersion(mux.Vars(r)["version"])
		if err != nil {
			writeErrorCode(w, http.StatusBadRequest, "invalid version")
			return
		}
		resp, sig, err := core.HashFor(version)
		if err != nil {
			writeError(w, log, err)
			return
		}
		w.Header().Set(SignatureHeader, sig.String())
		writeJSON(w, log, http.StatusOK, resp)
	}
}

func releaseHandler(core *Core, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version, err := release.NewVersion(mux.Vars(r)["version"])
		if err != nil {
			writeErrorCode(w, http.StatusBadRequest, "invalid version")
			return
		}
		stream, size, sig, err := core.OpenRelease(version)
		if err != nil {
			writeError(w, log, err)
			return
		}
		defer func() {
			if cerr := stream.Close(); cerr != nil {
				log.Warn("failed to close release stream", zap.Error(cerr))
			}
		}()

		w.Header().Set(SignatureHeader, sig.String())
		if size > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		}
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, stream); err != nil {
			log.Warn("error streaming release body", zap.Error(err), zap.String("version", version.String()))
		}
	}
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, release.ErrCatalogueEmpty):
		writeErrorCode(w, http.StatusServiceUnavailable, "catalogue empty")
	case errors.Is(err, release.ErrNoEligibleRelease):
		writeErrorCode(w, http.StatusServiceUnavailable, "no release eligible for this installation")
	case errors.Is(err, release.ErrUnknownVersion):
		writeErrorCode(w, http.StatusNotFound, "unknown version")
	default:
		log.Error("server core error", zap.Error(err))
		writeErrorCode(w, http.StatusInternalServerError, "internal error")
	}
}

func writeErrorCode(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorBody{Error: http.StatusText(code), Message: message})
}

func writeJSON(w http.ResponseWriter, log *zap.Logger, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("failed to encode response body", zap.Error(err))
	}
}

