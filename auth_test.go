package main

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestOperator(t *testing.T) {
	Convey("Methods work as expected", t, func() {
		op := new(Operator)
		Convey("Setting and verifying password works correctly with hashes", func() {
			So(op.SetPassword([]byte("hello123")), ShouldBeNil)
			So(op.PasswordHash, ShouldStartWith, "$")

			So(op.VerifyPassword([]byte("hello123")), ShouldBeNil)
			So(op.VerifyPassword([]byte("hello12")), ShouldNotBeNil)
		})

		Convey("Invalid hash returns the correct error code", func() {
			op.PasswordHash = "I DON'T WORK"
			So(op.VerifyPassword([]byte("hello123")).Error(), ShouldContainSubstring, "hashedSecret too short")
		})
	})
}

func TestTokenGeneration(t *testing.T) {
	Convey("test basic claim creation", t, func() {
		ts, err := newToken("hello test")
		So(ts, ShouldNotBeEmpty)
		So(err, ShouldBeNil)
	})
}

func TestLogin(t *testing.T) {
	// setup the fake db
	dir, err := ioutil.TempDir("", "auth_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	db, err := openDb(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	oldDB := ENV.DB
	ENV.DB = db
	defer func() {
		db.Close()
		ENV.DB = oldDB
	}()

	op := &Operator{
		Email: "login@test.case",
	}
	op.SetPassword([]byte("testing123"))
	ENV.DB.Save(op)

	post := func(lp *LoginPayload) *httptest.ResponseRecorder {
		body, _ := json.Marshal(lp)
		req := httptest.NewRequest("POST", "/api/login/", bytes.NewBuffer(body))
		req.Header.Add("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		http.HandlerFunc(Login).ServeHTTP(rr, req)
		return rr
	}

	Convey("Valid request works as expected", t, func() {
		rr := post(&LoginPayload{
			Email:    "login@test.case",
			Password: "testing123",
		})

		So(rr.Code, ShouldEqual, http.StatusOK)
		So(rr.Body.String(), ShouldContainSubstring, `"token":`)
	})

	Convey("Invalid credentials return error", t, func() {
		Convey("Incorrect email provides 404", func() {
			rr := post(&LoginPayload{
				Email:    "login-no@test.case",
				Password: "testing123",
			})

			So(rr.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Incorrect password provides 403", func() {
			rr := post(&LoginPayload{
				Email:    "login@test.case",
				Password: "testing12",
			})

			So(rr.Code, ShouldEqual, http.StatusForbidden)
		})
	})
}

func TestRequireAuth(t *testing.T) {
	protected := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Success"))
	}))

	Convey("Requests without a token are rejected", t, func() {
		req := httptest.NewRequest("GET", "/api/state", nil)
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, req)

		So(rr.Code, ShouldEqual, http.StatusUnauthorized)
	})

	Convey("A fresh token passes via the Authorization header", t, func() {
		ts, err := newToken("auth@test.case")
		So(err, ShouldBeNil)

		req := httptest.NewRequest("GET", "/api/state", nil)
		req.Header.Set("Authorization", "Bearer "+ts)
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, req)

		So(rr.Code, ShouldEqual, http.StatusOK)
		So(rr.Body.String(), ShouldEqual, "Success")
	})

	Convey("A fresh token passes via the query parameter", t, func() {
		ts, err := newToken("auth@test.case")
		So(err, ShouldBeNil)

		req := httptest.NewRequest("GET", "/ws/state?jwt="+ts, nil)
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, req)

		So(rr.Code, ShouldEqual, http.StatusOK)
	})

	Convey("Garbage tokens are rejected", t, func() {
		req := httptest.NewRequest("GET", "/api/state", nil)
		req.Header.Set("Authorization", "Bearer not.a.token")
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, req)

		So(rr.Code, ShouldEqual, http.StatusUnauthorized)
	})
}
