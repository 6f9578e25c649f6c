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

package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/utxowatch/utxowatch/storage"
	"github.com/utxowatch/utxowatch/types"
)

type apiResponse struct {
	Status  string      `json:"status"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

func doRequest(router http.Handler, method, target string) (int, apiResponse) {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp apiResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec.Code, resp
}

func TestAPI(t *testing.T) {
	Convey("Given a seeded store behind the http router", t, func() {
		ctx := context.Background()
		db, err := storage.OpenLongLived(ctx, storage.Options{
			File:            storage.OnDisk(path.Join(t.TempDir(), "store.sqlite3")),
			LongestRollback: 5,
			Tracer:          storage.NopTracer{},
		})
		So(err, ShouldBeNil)
		Reset(func() { So(db.Close(), ShouldBeNil) })

		spent := types.SlotNo(20)
		So(db.InsertCheckpoints(ctx, []types.Point{
			{SlotNo: 0, HeaderHash: []byte("h0")},
			{SlotNo: 10, HeaderHash: []byte("h10")},
			{SlotNo: 20, HeaderHash: []byte("h20")},
		}), ShouldBeNil)
		So(db.InsertInputs(ctx, []types.Input{
			{
				ExtendedOutputReference: []byte("ref-1"),
				Address:                 "addrone",
				Value:                   []byte{0x01},
				PaymentCredential:       "credone",
				CreatedAt:               10,
				DatumHash:               []byte("dh1"),
				Datum:                   []byte("datum-payload"),
			},
			{
				ExtendedOutputReference: []byte("ref-2"),
				Address:                 "addrtwo",
				Value:                   []byte{0x02},
				PaymentCredential:       "credtwo",
				CreatedAt:               10,
				SpentAt:                 &spent,
			},
		}), ShouldBeNil)

		router := NewRouter(db)

		Convey("GET /v1/health reports the tip", func() {
			code, resp := doRequest(router, "GET", "/v1/health")
			So(code, ShouldEqual, 200)
			So(resp.Success, ShouldBeTrue)
			data := resp.Data.(map[string]interface{})
			tip := data["tip"].(map[string]interface{})
			So(tip["slot_no"], ShouldEqual, float64(20))
		})

		Convey("GET /v1/checkpoints heads at the tip", func() {
			code, resp := doRequest(router, "GET", "/v1/checkpoints")
			So(code, ShouldEqual, 200)
			points := resp.Data.([]interface{})
			So(len(points), ShouldBeGreaterThan, 0)
			head := points[0].(map[string]interface{})
			So(head["slot_no"], ShouldEqual, float64(20))
		})

		Convey("GET /v1/checkpoints/{slot} walks ancestors", func() {
			code, resp := doRequest(router, "GET", "/v1/checkpoints/20?limit=2")
			So(code, ShouldEqual, 200)
			points := resp.Data.([]interface{})
			So(len(points), ShouldEqual, 2)
			So(points[0].(map[string]interface{})["slot_no"], ShouldEqual, float64(10))
			So(points[1].(map[string]interface{})["slot_no"], ShouldEqual, float64(0))
		})

		Convey("GET /v1/matches/{pattern} streams matches", func() {
			req := httptest.NewRequest("GET", "/v1/matches/*", nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			So(rec.Code, ShouldEqual, 200)

			var matches []matchModel
			So(json.Unmarshal(rec.Body.Bytes(), &matches), ShouldBeNil)
			So(len(matches), ShouldEqual, 2)

			Convey("The status flag narrows the stream", func() {
				req := httptest.NewRequest("GET", "/v1/matches/*?status=unspent", nil)
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)

				var unspent []matchModel
				So(json.Unmarshal(rec.Body.Bytes(), &unspent), ShouldBeNil)
				So(len(unspent), ShouldEqual, 1)
				So(unspent[0].OutputReference, ShouldEqual, hex.EncodeToString([]byte("ref-1")))
			})

			Convey("Address patterns narrow the stream", func() {
				req := httptest.NewRequest("GET", "/v1/matches/addr:addrtwo", nil)
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)

				var matches []matchModel
				So(json.Unmarshal(rec.Body.Bytes(), &matches), ShouldBeNil)
				So(len(matches), ShouldEqual, 1)
				So(matches[0].SpentAt, ShouldNotBeNil)
			})

			Convey("A bogus status flag is rejected", func() {
				code, resp := doRequest(router, "GET", "/v1/matches/*?status=bogus")
				So(code, ShouldEqual, 400)
				So(resp.Success, ShouldBeFalse)
			})
		})

		Convey("DELETE /v1/matches/{pattern} removes matched inputs", func() {
			code, resp := doRequest(router, "DELETE", "/v1/matches/addr:addrone")
			So(code, ShouldEqual, 200)
			data := resp.Data.(map[string]interface{})
			So(data["deleted"], ShouldEqual, float64(1))
		})

		Convey("Pattern management round-trips", func() {
			code, _ := doRequest(router, "PUT", "/v1/patterns/addr:addrone")
			So(code, ShouldEqual, 200)

			code, resp := doRequest(router, "GET", "/v1/patterns")
			So(code, ShouldEqual, 200)
			patterns := resp.Data.([]interface{})
			So(len(patterns), ShouldEqual, 1)
			So(patterns[0], ShouldEqual, "addr:addrone")

			code, _ = doRequest(router, "DELETE", "/v1/patterns/addr:addrone")
			So(code, ShouldEqual, 200)

			code, _ = doRequest(router, "DELETE", "/v1/patterns/addr:addrone")
			So(code, ShouldEqual, 404)

			code, _ = doRequest(router, "PUT", "/v1/patterns/bogus")
			So(code, ShouldEqual, 400)
		})

		Convey("GET /v1/datums/{hash} resolves payloads", func() {
			code, resp := doRequest(router, "GET", "/v1/datums/"+hex.EncodeToString([]byte("dh1")))
			So(code, ShouldEqual, 200)
			So(resp.Data, ShouldEqual, hex.EncodeToString([]byte("datum-payload")))

			code, _ = doRequest(router, "GET", "/v1/datums/ffff")
			So(code, ShouldEqual, 404)
		})

		Convey("GET /v1/scripts/{hash} reports missing scripts", func() {
			code, _ := doRequest(router, "GET", "/v1/scripts/ffff")
			So(code, ShouldEqual, 404)
		})
	})
}
