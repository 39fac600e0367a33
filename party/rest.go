package party

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/movieparty/server/store"
)

// ServerInfoMsg reports this backend's load; the gateway announcer
// polls it to keep the room placement registry fresh.
type ServerInfoMsg struct {
	OK     bool     `json:"ok"`
	NParty int      `json:"nparty"`
	Rooms  []string `json:"rooms"`
}

type partyCreateRequest struct {
	VideoURL  string `json:"videoUrl"`
	VideoKind string `json:"videoKind"`
}

type chatPostRequest struct {
	Party  string `json:"partyCode"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// RespondWithJSON writes m as a JSON response body.
func RespondWithJSON(m interface{}, statusCode int, w http.ResponseWriter) {
	payload, _ := json.Marshal(m)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(payload)
}

// RespondWithError writes a JSON error response.
func RespondWithError(reason string, statusCode int, w http.ResponseWriter) {
	RespondWithJSON(map[string]interface{}{
		"ok":     false,
		"reason": reason,
	}, statusCode, w)
}

func errStatus(err error) int {
	switch err {
	case ErrPartyNotFound, store.ErrNotFound:
		return http.StatusNotFound
	case ErrPartyEnded:
		return http.StatusGone
	case ErrForbidden, ErrInvalidToken:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

type restAPI struct {
	lifecycle *Lifecycle
	registry  *Registry
	parties   store.PartyStore
	chat      store.ChatStore
	log       zerolog.Logger
}

func (a *restAPI) createParty(w http.ResponseWriter, r *http.Request) {
	var req partyCreateRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // body is optional
	}
	info, err := a.lifecycle.CreateParty(req.VideoURL, req.VideoKind)
	if err != nil {
		a.log.Error().Err(err).Msg("party creation failed")
		RespondWithError("an internal error occurred", http.StatusInternalServerError, w)
		return
	}
	RespondWithJSON(map[string]interface{}{
		"ok":          true,
		"code":        info.Code,
		"leaderToken": info.LeaderToken,
		"viewerToken": info.ViewerToken,
	}, http.StatusCreated, w)
}

func (a *restAPI) getParty(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	p, err := a.parties.Get(code)
	if err != nil {
		RespondWithError(err.Error(), errStatus(err), w)
		return
	}
	RespondWithJSON(p, http.StatusOK, w)
}

func (a *restAPI) updateParty(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	var req partyCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError("invalid request body", http.StatusBadRequest, w)
		return
	}
	p, err := a.parties.Get(code)
	if err != nil {
		RespondWithError(err.Error(), errStatus(err), w)
		return
	}
	p.VideoURL = req.VideoURL
	p.VideoKind = req.VideoKind
	if err := a.parties.Save(p); err != nil {
		RespondWithError(err.Error(), errStatus(err), w)
		return
	}
	RespondWithJSON(p, http.StatusOK, w)
}

func (a *restAPI) endParty(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	token := r.URL.Query().Get("token")
	if err := a.lifecycle.EndParty(code, token); err != nil {
		RespondWithError(err.Error(), errStatus(err), w)
		return
	}
	RespondWithJSON(map[string]interface{}{"ok": true}, http.StatusOK, w)
}

func (a *restAPI) listFollowers(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	room, err := a.registry.Lookup(code)
	if err != nil {
		RespondWithError(err.Error(), errStatus(err), w)
		return
	}
	ids, err := room.Followers()
	if err != nil {
		RespondWithError(err.Error(), errStatus(err), w)
		return
	}
	RespondWithJSON(map[string]interface{}{
		"ok":        true,
		"followers": ids,
	}, http.StatusOK, w)
}

func (a *restAPI) listParties(w http.ResponseWriter, r *http.Request) {
	parties, err := a.parties.Active()
	if err != nil {
		RespondWithError(err.Error(), errStatus(err), w)
		return
	}
	RespondWithJSON(parties, http.StatusOK, w)
}

func (a *restAPI) postMessage(w http.ResponseWriter, r *http.Request) {
	var req chatPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondWithError("invalid request body", http.StatusBadRequest, w)
		return
	}
	if req.Party == "" || req.Sender == "" || req.Text == "" {
		RespondWithError("partyCode, sender and text are required", http.StatusBadRequest, w)
		return
	}
	msg := &store.Message{
		Party:     req.Party,
		Sender:    req.Sender,
		Text:      req.Text,
		Timestamp: time.Now(),
	}
	if err := a.chat.Append(msg); err != nil {
		RespondWithError(err.Error(), errStatus(err), w)
		return
	}
	RespondWithJSON(msg, http.StatusCreated, w)
}

func (a *restAPI) listMessages(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	msgs, err := a.chat.List(code)
	if err != nil {
		RespondWithError(err.Error(), errStatus(err), w)
		return
	}
	RespondWithJSON(msgs, http.StatusOK, w)
}

func (a *restAPI) serverInfo(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(&ServerInfoMsg{
		OK:     true,
		NParty: a.registry.Len(),
		Rooms:  a.registry.Codes(),
	}, http.StatusOK, w)
}

// NewRestMux builds the party REST API router.
func NewRestMux(lc *Lifecycle, reg *Registry, parties store.PartyStore, chat store.ChatStore, log zerolog.Logger) *mux.Router {
	a := &restAPI{lifecycle: lc, registry: reg, parties: parties, chat: chat, log: log}
	restMux := mux.NewRouter().StrictSlash(true)
	restMux.HandleFunc("/", http.NotFound)
	restMux.HandleFunc("/api/party", a.createParty).Methods("POST")
	restMux.HandleFunc("/api/parties", a.listParties).Methods("GET")
	restMux.HandleFunc("/api/party/{code}", a.getParty).Methods("GET")
	restMux.HandleFunc("/api/party/{code}", a.updateParty).Methods("PUT")
	restMux.HandleFunc("/api/party/{code}", a.endParty).Methods("DELETE")
	restMux.HandleFunc("/api/party/{code}/followers", a.listFollowers).Methods("GET")
	restMux.HandleFunc("/api/messages", a.postMessage).Methods("POST")
	restMux.HandleFunc("/api/messages/{code}", a.listMessages).Methods("GET")
	restMux.HandleFunc("/api/info", a.serverInfo).Methods("GET")
	return restMux
}
