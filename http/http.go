package http

import (
	"encoding/json"
	"errors"
	log "log/slog"
	"net/http"

	"github.com/nasdf/zing"
	"github.com/nasdf/zing/merge"
)

// ListenAndServe starts an http server bound to the given address.
func ListenAndServe(db *zing.DB, addr string) error {
	log.Info("serving", "addr", addr)
	return http.ListenAndServe(addr, Handler(db))
}

// MergeResponse is the body returned by the merge endpoint.
type MergeResponse struct {
	Node      string        `json:"node,omitempty"`
	Ancestor  string        `json:"ancestor,omitempty"`
	State     merge.State   `json:"state,omitempty"`
	Counts    *merge.Counts `json:"counts,omitempty"`
	Uniqified int           `json:"uniqified,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// LeavesResponse is the body returned by the leaves endpoint.
type LeavesResponse struct {
	Leaves []string `json:"leaves"`
	Error  string   `json:"error,omitempty"`
}

// Handler returns an http.Handler serving merge requests.
//
//	POST /merge?collection=<name>&user=<user>
//	GET  /leaves?collection=<name>
func Handler(db *zing.DB) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/merge", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		query := r.URL.Query()
		name := query.Get("collection")
		if name == "" {
			writeJSON(w, http.StatusBadRequest, MergeResponse{Error: "collection is required"})
			return
		}
		res, err := db.Merge(r.Context(), name, query.Get("user"))
		resp := MergeResponse{}
		if res != nil {
			resp.State = res.State
			resp.Counts = &res.Counts
			resp.Uniqified = len(res.Uniqified)
			if res.Node != nil {
				resp.Node = res.Node.Hash.String()
			}
			if res.Ancestor != nil {
				resp.Ancestor = res.Ancestor.String()
			}
		}
		if err != nil {
			resp.Error = err.Error()
			writeJSON(w, statusFor(err), resp)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
	mux.HandleFunc("/leaves", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		leaves, err := db.Leaves(r.Context(), r.URL.Query().Get("collection"))
		if err != nil {
			writeJSON(w, statusFor(err), LeavesResponse{Error: err.Error()})
			return
		}
		resp := LeavesResponse{Leaves: make([]string, len(leaves))}
		for i, l := range leaves {
			resp.Leaves[i] = l.String()
		}
		writeJSON(w, http.StatusOK, resp)
	})
	return mux
}

func statusFor(err error) int {
	if errors.Is(err, zing.ErrUnknownCollection) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	out, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(out)
}
