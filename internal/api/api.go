// Package api serves a small REST interface over the configured speakers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fideliod/internal/fidelio"
	"github.com/dokzlo13/fideliod/internal/speaker"
)

// Speaker is the coordinator surface the API drives.
type Speaker interface {
	Name() string
	Snapshot() speaker.Snapshot
	Power(ctx context.Context) (bool, error)
	Volume(ctx context.Context) (int, error)
	Apply(ctx context.Context, desired speaker.Desired) error
}

type api struct {
	speakers map[string]Speaker
	order    []string
}

type speakerState struct {
	Name string `json:"name"`
	speaker.Snapshot
}

type errorBody struct {
	Error string            `json:"error"`
	State *speaker.Snapshot `json:"state,omitempty"`
}

// New builds the router. Speakers are listed in the order given.
func New(speakers ...Speaker) *mux.Router {
	a := &api{speakers: make(map[string]Speaker, len(speakers))}
	for _, spk := range speakers {
		a.speakers[spk.Name()] = spk
		a.order = append(a.order, spk.Name())
	}

	r := mux.NewRouter()
	r.HandleFunc("/speakers", a.listSpeakers).Methods(http.MethodGet)
	r.HandleFunc("/speakers/{name}", a.speakerHandler(a.snapshot)).Methods(http.MethodGet)
	r.HandleFunc("/speakers/{name}/power", a.speakerHandler(a.power)).Methods(http.MethodGet)
	r.HandleFunc("/speakers/{name}/volume", a.speakerHandler(a.volume)).Methods(http.MethodGet)
	r.HandleFunc("/speakers/{name}/power/{on}", a.mutation("on", powerDecoder)).Methods(http.MethodPut)
	r.HandleFunc("/speakers/{name}/volume/{level}", a.mutation("level", volumeDecoder)).Methods(http.MethodPut)
	r.HandleFunc("/speakers/{name}/channel/{index}", a.mutation("index", channelDecoder)).Methods(http.MethodPut)
	r.HandleFunc("/speakers/{name}/state", a.speakerHandler(a.setState)).Methods(http.MethodPost)
	return r
}

func powerDecoder(s string) (speaker.Desired, error) {
	on, err := speaker.ParsePower(s)
	if err != nil {
		return speaker.Desired{}, err
	}
	return speaker.Desired{Power: &on}, nil
}

func volumeDecoder(s string) (speaker.Desired, error) {
	v, err := speaker.ParseVolume(s)
	if err != nil {
		return speaker.Desired{}, err
	}
	return speaker.Desired{Volume: v}, nil
}

func channelDecoder(s string) (speaker.Desired, error) {
	index, err := strconv.Atoi(s)
	if err != nil {
		return speaker.Desired{}, err
	}
	return speaker.Desired{Channel: &index}, nil
}

// StatusCode maps an Apply or query error to an HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, speaker.ErrRange), errors.Is(err, speaker.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, fidelio.ErrTransport), errors.Is(err, fidelio.ErrProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write API response")
	}
}

func writeError(w http.ResponseWriter, err error, state *speaker.Snapshot) {
	writeJSON(w, StatusCode(err), errorBody{Error: err.Error(), State: state})
}

func (a *api) listSpeakers(w http.ResponseWriter, r *http.Request) {
	states := make([]speakerState, 0, len(a.order))
	for _, name := range a.order {
		states = append(states, speakerState{Name: name, Snapshot: a.speakers[name].Snapshot()})
	}
	writeJSON(w, http.StatusOK, states)
}

func (a *api) speakerHandler(handler func(Speaker, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		spk, found := a.speakers[name]
		if !found {
			log.Debug().Str("speaker", name).Msg("API request for unknown speaker")
			writeJSON(w, http.StatusNotFound, errorBody{Error: "speaker not found"})
			return
		}
		handler(spk, w, r)
	}
}

func (a *api) snapshot(spk Speaker, w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, speakerState{Name: spk.Name(), Snapshot: spk.Snapshot()})
}

func (a *api) power(spk Speaker, w http.ResponseWriter, r *http.Request) {
	on, err := spk.Power(r.Context())
	if err != nil {
		log.Warn().Err(err).Str("speaker", spk.Name()).Msg("Power query failed, answering from cache")
		writeJSON(w, StatusCode(err), map[string]any{"power": on, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"power": on})
}

func (a *api) volume(spk Speaker, w http.ResponseWriter, r *http.Request) {
	level, err := spk.Volume(r.Context())
	if err != nil {
		log.Warn().Err(err).Str("speaker", spk.Name()).Msg("Volume query failed, answering from cache")
		writeJSON(w, StatusCode(err), map[string]any{"volume": level, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"volume": level})
}

func (a *api) mutation(v string, decoder func(string) (speaker.Desired, error)) http.HandlerFunc {
	return a.speakerHandler(func(spk Speaker, w http.ResponseWriter, r *http.Request) {
		raw := mux.Vars(r)[v]
		desired, err := decoder(raw)
		if err != nil {
			log.Debug().Err(err).Str("value", raw).Msg("Failed decoding API value")
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		a.apply(spk, desired, w, r)
	})
}

func (a *api) setState(spk Speaker, w http.ResponseWriter, r *http.Request) {
	var desired speaker.Desired
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&desired); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	a.apply(spk, desired, w, r)
}

func (a *api) apply(spk Speaker, desired speaker.Desired, w http.ResponseWriter, r *http.Request) {
	ctx := speaker.WithSource(r.Context(), speaker.SourceAPI)
	err := spk.Apply(ctx, desired)
	state := spk.Snapshot()
	if err != nil {
		log.Error().Err(err).Str("speaker", spk.Name()).Stringer("desired", desired).Msg("API apply failed")
		writeError(w, err, &state)
		return
	}
	writeJSON(w, http.StatusOK, speakerState{Name: spk.Name(), Snapshot: state})
}
