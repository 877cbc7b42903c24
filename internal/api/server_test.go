package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/pwalczak/memberca/internal/ca"
	"github.com/pwalczak/memberca/internal/config"
	"github.com/pwalczak/memberca/internal/csr"
	"github.com/pwalczak/memberca/internal/register"
	"github.com/pwalczak/memberca/internal/registrar"
	"github.com/pwalczak/memberca/internal/store"
	"github.com/pwalczak/memberca/internal/transport"
	"github.com/pwalczak/memberca/internal/wire"
)

const testAdminToken = "test-admin-token"

func testServer(t *testing.T) (*Server, store.Store) {
	t.Helper()

	dir := t.TempDir()
	key, err := ca.LoadOrGenerate(filepath.Join(dir, "ca_key"), filepath.Join(dir, "ca_key.pub"), "ed25519")
	require.NoError(t, err)

	st := store.NewMemoryStore()
	authority := registrar.New(key, st, registrar.NewBus(), log.New(io.Discard, "", 0))

	cfg := &config.Config{
		Server:    config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Database:  config.DatabaseConfig{Path: filepath.Join(dir, "records.db")},
		Authority: config.AuthorityConfig{KeyType: "ed25519"},
		Admin:     config.AdminConfig{Token: testAdminToken},
		Logging:   config.LoggingConfig{Level: "error"},
	}

	return NewServer(cfg, authority, st, nil), st
}

func encodedRequest(t *testing.T, username string) []byte {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	request, err := csr.New(username, signer)
	require.NoError(t, err)
	csrBytes, err := request.Encode()
	require.NoError(t, err)

	data, err := wire.EncodeRequest(&wire.Request{Username: username, CSR: csrBytes})
	require.NoError(t, err)
	return data
}

func postRegister(t *testing.T, server *Server, body []byte) (*httptest.ResponseRecorder, *wire.Response) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/v1/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	resp, err := wire.DecodeResponse(rec.Body.Bytes())
	require.NoError(t, err)
	return rec, resp
}

func TestRegisterEndpoint(t *testing.T) {
	server, st := testServer(t)

	body := encodedRequest(t, "alice")

	rec, resp := postRegister(t, server, body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success())

	t.Run("replay succeeds with identical certificate", func(t *testing.T) {
		replayRec, replayResp := postRegister(t, server, body)
		require.Equal(t, http.StatusOK, replayRec.Code)
		require.Equal(t, resp.Certificate, replayResp.Certificate)

		records, err := st.List(context.Background())
		require.NoError(t, err)
		require.Len(t, records, 1)
	})

	t.Run("taken username maps to 409", func(t *testing.T) {
		rec, resp := postRegister(t, server, encodedRequest(t, "alice"))
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Equal(t, wire.CodeUsernameTaken, resp.Error.Code)
	})

	t.Run("malformed body maps to 400", func(t *testing.T) {
		rec, resp := postRegister(t, server, []byte("junk"))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, wire.CodeInvalidRequest, resp.Error.Code)
	})
}

func TestAuthorityKeyEndpoint(t *testing.T) {
	server, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/ca", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		PublicKey string `json:"public_key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body.PublicKey, "ssh-ed25519")
}

func TestAdminRecords(t *testing.T) {
	server, _ := testServer(t)
	postRegister(t, server, encodedRequest(t, "alice"))

	t.Run("requires token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/records", nil)
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/records", nil)
		req.Header.Set("X-Admin-Token", "wrong")
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("lists records", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/records", nil)
		req.Header.Set("X-Admin-Token", testAdminToken)
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Records []RecordView `json:"records"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Records, 1)
		require.Equal(t, "alice", body.Records[0].Username)
	})
}

// End-to-end: a real client session through the real HTTP transport against
// the registrar, surviving an initial connection failure.
func TestClientRegistersOverHTTP(t *testing.T) {
	server, _ := testServer(t)
	httpServer := httptest.NewServer(server.Router())
	defer httpServer.Close()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	request, err := csr.New("carol", signer)
	require.NoError(t, err)
	csrBytes, err := request.Encode()
	require.NoError(t, err)

	tr, err := transport.NewHTTP(httpServer.URL, transport.WithTimeout(2*time.Second))
	require.NoError(t, err)

	session, err := register.Begin("carol", csrBytes, tr, register.Options{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		AttemptTimeout:  2 * time.Second,
		Logger:          log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)

	select {
	case <-session.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("registration did not finish")
	}

	result := session.Result()
	require.Equal(t, register.StateRegistered, result.State)

	cert, err := ca.ParseCertificate(string(result.Certificate))
	require.NoError(t, err)
	require.Equal(t, []string{"carol"}, cert.ValidPrincipals)
}
