/*
 * Copyright 2022 The utxowatch Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package api exposes the store over HTTP/JSON. Reads run on short-lived
// read-only connections; pattern management and match deletion run on
// short-lived read-write connections gated by the store's lock coordinator.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/utxowatch/utxowatch/pattern"
	"github.com/utxowatch/utxowatch/storage"
	"github.com/utxowatch/utxowatch/types"
	"github.com/utxowatch/utxowatch/utils/log"
)

var apiTimeout = time.Second * 10

func sendResponse(code int, success bool, msg interface{}, data interface{}, rw http.ResponseWriter) {
	msgStr := "ok"
	if msg != nil {
		msgStr = fmt.Sprint(msg)
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(map[string]interface{}{
		"status":  msgStr,
		"success": success,
		"data":    data,
	})
}

type storeAPI struct {
	db *storage.Database
}

func (a *storeAPI) getPattern(vars map[string]string) (pattern.Pattern, error) {
	return pattern.FromText(vars["pattern"])
}

func (a *storeAPI) getHash(vars map[string]string) ([]byte, error) {
	return hex.DecodeString(vars["hash"])
}

// GetHealth reports liveness plus the current tip.
func (a *storeAPI) GetHealth(rw http.ResponseWriter, r *http.Request) {
	var points []types.Point
	err := a.db.WithShortLived(r.Context(), storage.ReadOnly, func(db *storage.Database) (err error) {
		points, err = db.ListCheckpointsDesc(r.Context())
		return
	})
	if err != nil {
		sendResponse(500, false, err, nil, rw)
		return
	}
	var tip *checkpointModel
	if len(points) > 0 {
		cp := formatCheckpoint(points[0])
		tip = &cp
	}
	sendResponse(200, true, "", map[string]interface{}{"tip": tip}, rw)
}

// GetCheckpoints returns the sparse descending checkpoint sample.
func (a *storeAPI) GetCheckpoints(rw http.ResponseWriter, r *http.Request) {
	var points []types.Point
	err := a.db.WithShortLived(r.Context(), storage.ReadOnly, func(db *storage.Database) (err error) {
		points, err = db.ListCheckpointsDesc(r.Context())
		return
	})
	if err != nil {
		sendResponse(500, false, err, nil, rw)
		return
	}
	sendResponse(200, true, "", formatCheckpoints(points), rw)
}

// GetAncestors returns checkpoints strictly before the given slot.
func (a *storeAPI) GetAncestors(rw http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	slot, err := strconv.ParseUint(vars["slot"], 10, 64)
	if err != nil {
		sendResponse(400, false, err, nil, rw)
		return
	}
	limit := int64(1)
	if s := r.URL.Query().Get("limit"); s != "" {
		if limit, err = strconv.ParseInt(s, 10, 64); err != nil || limit < 1 {
			sendResponse(400, false, "invalid limit", nil, rw)
			return
		}
	}
	var points []types.Point
	err = a.db.WithShortLived(r.Context(), storage.ReadOnly, func(db *storage.Database) (err error) {
		points, err = db.ListAncestorsDesc(r.Context(), types.SlotNo(slot), limit)
		return
	})
	if err != nil {
		sendResponse(500, false, err, nil, rw)
		return
	}
	sendResponse(200, true, "", formatCheckpoints(points), rw)
}

// GetMatches streams every input matched by the pattern as a JSON array, one
// element per row, without materializing the result set.
func (a *storeAPI) GetMatches(rw http.ResponseWriter, r *http.Request) {
	p, err := a.getPattern(mux.Vars(r))
	if err != nil {
		sendResponse(400, false, err, nil, rw)
		return
	}
	status, err := pattern.StatusFromText(r.URL.Query().Get("status"))
	if err != nil {
		sendResponse(400, false, err, nil, rw)
		return
	}
	dir := storage.Desc
	switch r.URL.Query().Get("order") {
	case "", "newest_first":
	case "oldest_first":
		dir = storage.Asc
	default:
		sendResponse(400, false, "unrecognized order flag", nil, rw)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(200)
	_, _ = rw.Write([]byte("["))
	first := true
	enc := json.NewEncoder(rw)
	err = a.db.WithShortLived(r.Context(), storage.ReadOnly, func(db *storage.Database) error {
		return db.FoldInputs(r.Context(), p, status, dir, func(result types.Result) error {
			if !first {
				_, _ = rw.Write([]byte(","))
			}
			first = false
			return enc.Encode(formatMatch(result))
		})
	})
	if err != nil {
		// headers are gone; truncate the stream and log
		log.WithError(err).Warn("aborting match stream")
	}
	_, _ = rw.Write([]byte("]"))
}

// DeleteMatches removes every input matched by the pattern.
func (a *storeAPI) DeleteMatches(rw http.ResponseWriter, r *http.Request) {
	p, err := a.getPattern(mux.Vars(r))
	if err != nil {
		sendResponse(400, false, err, nil, rw)
		return
	}
	var count int64
	err = a.db.WithShortLived(r.Context(), storage.ReadWrite, func(db *storage.Database) (err error) {
		count, err = db.DeleteInputs(r.Context(), []pattern.Pattern{p})
		return
	})
	if err != nil {
		sendResponse(500, false, err, nil, rw)
		return
	}
	sendResponse(200, true, "", map[string]interface{}{"deleted": count}, rw)
}

// GetPatterns lists the registered patterns.
func (a *storeAPI) GetPatterns(rw http.ResponseWriter, r *http.Request) {
	var patterns []pattern.Pattern
	err := a.db.WithShortLived(r.Context(), storage.ReadOnly, func(db *storage.Database) (err error) {
		patterns, err = db.ListPatterns(r.Context())
		return
	})
	if err != nil {
		sendResponse(500, false, err, nil, rw)
		return
	}
	texts := make([]string, 0, len(patterns))
	for _, p := range patterns {
		texts = append(texts, p.Text())
	}
	sendResponse(200, true, "", texts, rw)
}

// PutPattern registers a pattern.
func (a *storeAPI) PutPattern(rw http.ResponseWriter, r *http.Request) {
	p, err := a.getPattern(mux.Vars(r))
	if err != nil {
		sendResponse(400, false, err, nil, rw)
		return
	}
	err = a.db.WithShortLived(r.Context(), storage.ReadWrite, func(db *storage.Database) error {
		return db.InsertPatterns(r.Context(), []pattern.Pattern{p})
	})
	if err != nil {
		sendResponse(500, false, err, nil, rw)
		return
	}
	sendResponse(200, true, "", p.Text(), rw)
}

// DeletePattern unregisters a pattern.
func (a *storeAPI) DeletePattern(rw http.ResponseWriter, r *http.Request) {
	p, err := a.getPattern(mux.Vars(r))
	if err != nil {
		sendResponse(400, false, err, nil, rw)
		return
	}
	var count int64
	err = a.db.WithShortLived(r.Context(), storage.ReadWrite, func(db *storage.Database) (err error) {
		count, err = db.DeletePattern(r.Context(), p)
		return
	})
	if err != nil {
		sendResponse(500, false, err, nil, rw)
		return
	}
	if count == 0 {
		sendResponse(404, false, "pattern not found", nil, rw)
		return
	}
	sendResponse(200, true, "", map[string]interface{}{"deleted": count}, rw)
}

// GetDatum returns a content-addressed datum payload.
func (a *storeAPI) GetDatum(rw http.ResponseWriter, r *http.Request) {
	hash, err := a.getHash(mux.Vars(r))
	if err != nil {
		sendResponse(400, false, err, nil, rw)
		return
	}
	var data []byte
	err = a.db.WithShortLived(r.Context(), storage.ReadOnly, func(db *storage.Database) (err error) {
		data, err = db.GetBinaryData(r.Context(), hash)
		return
	})
	if err != nil {
		sendResponse(500, false, err, nil, rw)
		return
	}
	if data == nil {
		sendResponse(404, false, "datum not found", nil, rw)
		return
	}
	sendResponse(200, true, "", hex.EncodeToString(data), rw)
}

// GetScript returns a content-addressed script payload.
func (a *storeAPI) GetScript(rw http.ResponseWriter, r *http.Request) {
	hash, err := a.getHash(mux.Vars(r))
	if err != nil {
		sendResponse(400, false, err, nil, rw)
		return
	}
	var script []byte
	err = a.db.WithShortLived(r.Context(), storage.ReadOnly, func(db *storage.Database) (err error) {
		script, err = db.GetScript(r.Context(), hash)
		return
	})
	if err != nil {
		sendResponse(500, false, err, nil, rw)
		return
	}
	if script == nil {
		sendResponse(404, false, "script not found", nil, rw)
		return
	}
	sendResponse(200, true, "", hex.EncodeToString(script), rw)
}

// NewRouter builds the HTTP route table over the given store handle.
func NewRouter(db *storage.Database) *mux.Router {
	api := &storeAPI{db: db}

	router := mux.NewRouter()
	v1Router := router.PathPrefix("/v1").Subrouter()
	v1Router.HandleFunc("/health", api.GetHealth).Methods("GET")
	v1Router.HandleFunc("/checkpoints", api.GetCheckpoints).Methods("GET")
	v1Router.HandleFunc("/checkpoints/{slot:[0-9]+}", api.GetAncestors).Methods("GET")
	v1Router.HandleFunc("/matches/{pattern}", api.GetMatches).Methods("GET")
	v1Router.HandleFunc("/matches/{pattern}", api.DeleteMatches).Methods("DELETE")
	v1Router.HandleFunc("/patterns", api.GetPatterns).Methods("GET")
	v1Router.HandleFunc("/patterns/{pattern}", api.PutPattern).Methods("PUT")
	v1Router.HandleFunc("/patterns/{pattern}", api.DeletePattern).Methods("DELETE")
	v1Router.HandleFunc("/datums/{hash:[0-9a-fA-F]+}", api.GetDatum).Methods("GET")
	v1Router.HandleFunc("/scripts/{hash:[0-9a-fA-F]+}", api.GetScript).Methods("GET")
	return router
}

// StartAPI serves the route table on listenAddr until StopAPI.
func StartAPI(db *storage.Database, listenAddr string) (server *http.Server, err error) {
	server = &http.Server{
		Addr:         listenAddr,
		WriteTimeout: apiTimeout * 10,
		ReadTimeout:  apiTimeout,
		IdleTimeout:  apiTimeout,
		Handler: handlers.CORS(
			handlers.AllowedHeaders([]string{"Content-Type"}),
		)(NewRouter(db)),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("start api server failed")
		}
	}()

	return server, err
}

// StopAPI gracefully shuts the server down.
func StopAPI(server *http.Server) (err error) {
	return server.Shutdown(context.Background())
}
