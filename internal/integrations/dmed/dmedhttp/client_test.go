package dmedhttp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/MedPass/internal/cache/rediscache"
	"github.com/BearBump/MedPass/internal/integrations/dmed"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

type registryStub struct {
	signIns  atomic.Int32
	persons  string
	detail   string
	markers  string
	lastAuth atomic.Value
	lastBody atomic.Value
	status   int
}

func (s *registryStub) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		s.lastBody.Store(string(body))
		w.Header().Set("Content-Type", "application/json")

		if r.URL.Path == "/api/Authentication/SignInExternalApp" {
			s.signIns.Add(1)
			var creds map[string]string
			require.NoError(t, json.Unmarshal(body, &creds))
			require.Equal(t, "sys", creds["systemUsername"])
			require.Equal(t, "secret", creds["systemPassword"])
			_, _ = w.Write([]byte("tok-1"))
			return
		}

		s.lastAuth.Store(r.Header.Get("Authorization"))
		if s.status != 0 {
			w.WriteHeader(s.status)
		}
		switch r.URL.Path {
		case "/api/Person/GetPersons":
			_, _ = w.Write([]byte(s.persons))
		case "/api/Person/GetPersonDetail":
			_, _ = w.Write([]byte(s.detail))
		case "/api/Person/GetPersonMarkers":
			_, _ = w.Write([]byte(s.markers))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newStubServer(t *testing.T, s *registryStub) *httptest.Server {
	srv := httptest.NewServer(s.handler(t))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_GetPerson_OK(t *testing.T) {
	stub := &registryStub{persons: `[
  {"id": 501, "firstName": "Айдар", "secondName": "Серикович", "lastName": "Нуров", "fullName": "Нуров Айдар Серикович",
   "birthDate": "1990-01-01T00:00:00", "sexID": 3, "nationalityID": 1, "citizenshipID": 1, "rpnID": 777, "masterDataID": 42},
  {"id": 502}
]`}
	srv := newStubServer(t, stub)

	c := New(srv.URL+"/api", Credentials{Username: "sys", Password: "secret"}, nil)
	rec, err := c.GetPerson(context.Background(), "900101300017")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, int64(501), rec.ID)
	require.Equal(t, "900101300017", rec.IIN)
	require.Equal(t, "Нуров Айдар Серикович", rec.FullName)
	require.Equal(t, 3, rec.SexID)
	require.Equal(t, time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC), *rec.BirthDate)
	require.Equal(t, int64(777), *rec.RPNID)
	require.Equal(t, int64(42), *rec.MasterDataID)
	require.Equal(t, int64(1), *rec.CitizenshipID)
	require.Equal(t, "Bearer tok-1", stub.lastAuth.Load())
	require.JSONEq(t, `{"iin":"900101300017"}`, stub.lastBody.Load().(string))
}

func TestClient_GetPerson_EmptyIsNotFound(t *testing.T) {
	srv := newStubServer(t, &registryStub{persons: `[]`})

	c := New(srv.URL+"/api/", Credentials{Username: "sys", Password: "secret"}, nil)
	rec, err := c.GetPerson(context.Background(), "900101300017")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestClient_GetPerson_RemoteApplicationError(t *testing.T) {
	for _, body := range []string{
		`{"Code": 17, "Message": "service unavailable"}`,
		`{"message": "service unavailable"}`,
	} {
		srv := newStubServer(t, &registryStub{persons: body})
		c := New(srv.URL+"/api", Credentials{Username: "sys", Password: "secret"}, nil)

		_, err := c.GetPerson(context.Background(), "900101300017")
		require.Error(t, err)
		require.True(t, dmed.IsBadGateway(err), body)

		var de *dmed.Error
		require.ErrorAs(t, err, &de)
		require.Equal(t, "service unavailable", de.Message)
	}
}

func TestClient_GetPerson_TransportErrors(t *testing.T) {
	srv := newStubServer(t, &registryStub{persons: `<html>oops</html>`, status: http.StatusInternalServerError})
	c := New(srv.URL+"/api", Credentials{Username: "sys", Password: "secret"}, nil)
	_, err := c.GetPerson(context.Background(), "900101300017")
	require.True(t, dmed.IsTransport(err))

	srv = newStubServer(t, &registryStub{persons: `{"unexpected": true}`})
	c = New(srv.URL+"/api", Credentials{Username: "sys", Password: "secret"}, nil)
	_, err = c.GetPerson(context.Background(), "900101300017")
	require.True(t, dmed.IsTransport(err))

	srv = newStubServer(t, &registryStub{persons: `[{"id": 1, "birthDate": "01.01.1990"}]`})
	c = New(srv.URL+"/api", Credentials{Username: "sys", Password: "secret"}, nil)
	_, err = c.GetPerson(context.Background(), "900101300017")
	require.True(t, dmed.IsTransport(err))
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte("tok"))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, Credentials{}, nil, WithTimeout(20*time.Millisecond))
	_, err := c.GetPerson(context.Background(), "900101300017")
	require.Error(t, err)
	require.True(t, dmed.IsTransport(err))
}

func TestClient_TokenCachedPerEndpoint(t *testing.T) {
	mr := miniredis.RunT(t)
	tokens := rediscache.New(mr.Addr())

	stubA := &registryStub{persons: `[]`}
	stubB := &registryStub{persons: `[]`}
	srvA := newStubServer(t, stubA)
	srvB := newStubServer(t, stubB)
	creds := Credentials{Username: "sys", Password: "secret"}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := New(srvA.URL+"/api", creds, tokens).GetPerson(ctx, "900101300017")
		require.NoError(t, err)
	}
	_, err := New(srvB.URL+"/api", creds, tokens).GetPerson(ctx, "900101300017")
	require.NoError(t, err)

	require.Equal(t, int32(1), stubA.signIns.Load())
	require.Equal(t, int32(1), stubB.signIns.Load())
	require.True(t, mr.Exists(TokenKey(srvA.URL+"/api")))
	require.True(t, mr.Exists(TokenKey(srvB.URL+"/api")))
	ttl := mr.TTL(TokenKey(srvA.URL + "/api"))
	require.Equal(t, time.Hour, ttl)
}

func TestClient_UnauthorizedDropsToken(t *testing.T) {
	mr := miniredis.RunT(t)
	tokens := rediscache.New(mr.Addr())
	stub := &registryStub{persons: `[]`, status: http.StatusUnauthorized}
	srv := newStubServer(t, stub)

	_, err := New(srv.URL+"/api", Credentials{Username: "sys", Password: "secret"}, tokens).
		GetPerson(context.Background(), "900101300017")
	require.True(t, dmed.IsTransport(err))
	require.False(t, mr.Exists(TokenKey(srv.URL+"/api")))
}

func TestClient_GetPersonDetail(t *testing.T) {
	stub := &registryStub{detail: `{
  "phoneNumbers": ["+77011234567", " ", "+77027654321"],
  "addresses": [
    {"addressType": 2, "isMain": false, "fullAddress": "Алматы, Абая 1"},
    {"addressType": 5, "isMain": false, "fullAddress": "Алматы, Сатпаева 90"},
    {"addressType": 1, "isMain": true, "fullAddress": "Астана, Кенесары 4"}
  ]
}`}
	srv := newStubServer(t, stub)

	c := New(srv.URL+"/api", Credentials{Username: "sys", Password: "secret"}, nil)
	d, err := c.GetPersonDetail(context.Background(), 777)
	require.NoError(t, err)
	require.Equal(t, []string{"+77011234567", "+77027654321"}, d.PhoneNumbers)
	require.Equal(t, "Астана, Кенесары 4", d.ResidencePlace)
	require.Equal(t, "Алматы, Сатпаева 90", d.WorkingPlace)
	require.Equal(t, "777", stub.lastBody.Load())
}

func TestClient_GetPersonDetail_NoRPNSkipped(t *testing.T) {
	stub := &registryStub{}
	srv := newStubServer(t, stub)

	c := New(srv.URL+"/api", Credentials{Username: "sys", Password: "secret"}, nil)
	d, err := c.GetPersonDetail(context.Background(), 0)
	require.NoError(t, err)
	require.Nil(t, d)
	require.Equal(t, int32(0), stub.signIns.Load())
}

func TestClient_GetPersonMarkers(t *testing.T) {
	stub := &registryStub{markers: `{"data": [{"markerID": 52, "markerName": "X"}, {"markerID": 7, "markerName": "Y"}]}`}
	srv := newStubServer(t, stub)

	c := New(srv.URL+"/api", Credentials{Username: "sys", Password: "secret"}, nil)
	ms, err := c.GetPersonMarkers(context.Background(), 501)
	require.NoError(t, err)
	require.Equal(t, []dmed.Marker{{ID: 52, Name: "X"}, {ID: 7, Name: "Y"}}, ms)
	require.JSONEq(t, `{"personID": 501, "limit": 1024}`, stub.lastBody.Load().(string))
}

func TestParseToken(t *testing.T) {
	require.Equal(t, "abc", parseToken([]byte("abc\n")))
	require.Equal(t, "abc", parseToken([]byte(`"abc"`)))
}
