package party

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movieparty/server/store"
)

type restFixture struct {
	srv *httptest.Server
	reg *Registry
}

func newRestFixture(t *testing.T) *restFixture {
	t.Helper()
	reg := NewRegistry(zerolog.Nop())
	go reg.Run()
	t.Cleanup(reg.Close)
	parties := store.NewMemPartyStore()
	chat := store.NewMemChatStore()
	lc := NewLifecycle(reg, parties, chat, DefaultOptions(), zerolog.Nop())
	srv := httptest.NewServer(NewRestMux(lc, reg, parties, chat, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return &restFixture{srv: srv, reg: reg}
}

func (f *restFixture) postJSON(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	resp, err := http.Post(f.srv.URL+path, "application/json", &buf)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func createTestParty(t *testing.T, f *restFixture) map[string]interface{} {
	t.Helper()
	resp := f.postJSON(t, "/api/party", map[string]string{
		"videoUrl":  "https://example.com/movie.mp4",
		"videoKind": "url",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var body map[string]interface{}
	decodeBody(t, resp, &body)
	require.Equal(t, true, body["ok"])
	return body
}

func TestRestCreateAndGetParty(t *testing.T) {
	f := newRestFixture(t)
	created := createTestParty(t, f)
	code := created["code"].(string)
	require.Len(t, code, partyCodeLength)
	require.NotEmpty(t, created["leaderToken"])
	require.NotEmpty(t, created["viewerToken"])

	resp, err := http.Get(f.srv.URL + "/api/party/" + code)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p store.Party
	decodeBody(t, resp, &p)
	assert.Equal(t, code, p.Code)
	assert.Equal(t, "https://example.com/movie.mp4", p.VideoURL)
	assert.True(t, p.IsActive)
}

func TestRestGetUnknownParty(t *testing.T) {
	f := newRestFixture(t)
	resp, err := http.Get(f.srv.URL + "/api/party/NOSUCH")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRestListParties(t *testing.T) {
	f := newRestFixture(t)
	createTestParty(t, f)
	createTestParty(t, f)

	resp, err := http.Get(f.srv.URL + "/api/parties")
	require.NoError(t, err)
	var out []*store.Party
	decodeBody(t, resp, &out)
	assert.Len(t, out, 2)
}

func TestRestUpdateParty(t *testing.T) {
	f := newRestFixture(t)
	code := createTestParty(t, f)["code"].(string)

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(map[string]string{
		"videoUrl":  "https://example.com/other.mp4",
		"videoKind": "youtube",
	}))
	req, err := http.NewRequest(http.MethodPut, f.srv.URL+"/api/party/"+code, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p store.Party
	decodeBody(t, resp, &p)
	assert.Equal(t, "https://example.com/other.mp4", p.VideoURL)
	assert.Equal(t, "youtube", p.VideoKind)
}

func TestRestEndPartyRequiresLeaderToken(t *testing.T) {
	f := newRestFixture(t)
	created := createTestParty(t, f)
	code := created["code"].(string)

	doDelete := func(token string) int {
		req, err := http.NewRequest(http.MethodDelete, f.srv.URL+"/api/party/"+code+"?token="+token, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusForbidden, doDelete(created["viewerToken"].(string)))
	assert.Equal(t, http.StatusOK, doDelete(created["leaderToken"].(string)))

	require.Eventually(t, func() bool {
		_, err := f.reg.Lookup(code)
		return err == ErrPartyEnded
	}, time.Second, 10*time.Millisecond)

	// a second delete reports the party as gone
	assert.Equal(t, http.StatusGone, doDelete(created["leaderToken"].(string)))
}

func TestRestChatRoundTrip(t *testing.T) {
	f := newRestFixture(t)
	code := createTestParty(t, f)["code"].(string)

	resp := f.postJSON(t, "/api/messages", map[string]string{
		"partyCode": code,
		"sender":    "alice",
		"text":      "ready when you are",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = f.postJSON(t, "/api/messages", map[string]string{"sender": "alice"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	listResp, err := http.Get(f.srv.URL + "/api/messages/" + code)
	require.NoError(t, err)
	var msgs []*store.Message
	decodeBody(t, listResp, &msgs)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice", msgs[0].Sender)
	assert.Equal(t, "ready when you are", msgs[0].Text)
	assert.NotEmpty(t, msgs[0].ID)
}

func TestRestListFollowers(t *testing.T) {
	f := newRestFixture(t)
	code := createTestParty(t, f)["code"].(string)

	resp, err := http.Get(f.srv.URL + "/api/party/" + code + "/followers")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		OK        bool     `json:"ok"`
		Followers []string `json:"followers"`
	}
	decodeBody(t, resp, &body)
	assert.True(t, body.OK)
	assert.Empty(t, body.Followers)

	resp, err = http.Get(f.srv.URL + "/api/party/NOSUCH/followers")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRestServerInfo(t *testing.T) {
	f := newRestFixture(t)
	code := createTestParty(t, f)["code"].(string)

	resp, err := http.Get(f.srv.URL + "/api/info")
	require.NoError(t, err)
	var info ServerInfoMsg
	decodeBody(t, resp, &info)
	assert.True(t, info.OK)
	assert.Equal(t, 1, info.NParty)
	assert.Equal(t, []string{code}, info.Rooms)
}
