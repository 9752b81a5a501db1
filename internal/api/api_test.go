package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/fideliod/internal/fidelio"
	"github.com/dokzlo13/fideliod/internal/fidelio/fideliotest"
	"github.com/dokzlo13/fideliod/internal/speaker"
)

var testChannels = []string{"nav$AUX", "nav$BT", "nav$USB"}

func newTestAPI(t *testing.T, on bool) (*fideliotest.Speaker, *speaker.Speaker, http.Handler) {
	t.Helper()
	fake := fideliotest.NewSpeaker(on, 16)
	t.Cleanup(fake.Close)

	client := fidelio.NewClient(fake.Host(), fake.Port(), 2*time.Second, 0)
	spk := speaker.New("living", client,
		speaker.WithChannels(testChannels),
		speaker.WithSeed(speaker.Snapshot{Power: on, Volume: 25, Channel: 1}),
	)
	return fake, spk, New(spk)
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestListSpeakers(t *testing.T) {
	_, _, h := newTestAPI(t, true)

	req := httptest.NewRequest(http.MethodGet, "/speakers", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, "living", got[0]["name"])
	require.Equal(t, float64(25), got[0]["volume"])
}

func TestUnknownSpeaker(t *testing.T) {
	_, _, h := newTestAPI(t, true)

	rec, body := do(t, h, http.MethodGet, "/speakers/kitchen", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "speaker not found", body["error"])
}

func TestGetPowerAndVolume(t *testing.T) {
	_, _, h := newTestAPI(t, true)

	rec, body := do(t, h, http.MethodGet, "/speakers/living/power", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["power"])

	rec, body = do(t, h, http.MethodGet, "/speakers/living/volume", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(fidelio.ToPercent(16)), body["volume"])
}

func TestGetVolumeFailureReturnsCache(t *testing.T) {
	fake, _, h := newTestAPI(t, true)
	fake.FailWith("ELAPSE", http.StatusInternalServerError)

	rec, body := do(t, h, http.MethodGet, "/speakers/living/volume", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, float64(25), body["volume"])
	require.NotEmpty(t, body["error"])
}

func TestPutVolume(t *testing.T) {
	fake, _, h := newTestAPI(t, true)

	rec, body := do(t, h, http.MethodPut, "/speakers/living/volume/50", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(50), body["volume"])
	require.Equal(t, false, body["volume_pending"])
	require.Equal(t, fidelio.ToNative(50), fake.NativeVolume())
}

func TestPutVolumeWhileOffIsDeferred(t *testing.T) {
	fake, _, h := newTestAPI(t, false)

	rec, body := do(t, h, http.MethodPut, "/speakers/living/volume/50", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["volume_pending"])
	require.False(t, fake.On())
	require.Equal(t, 16, fake.NativeVolume())
}

func TestPutPowerOnFlushesPending(t *testing.T) {
	fake, _, h := newTestAPI(t, false)

	rec, _ := do(t, h, http.MethodPut, "/speakers/living/channel/2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := do(t, h, http.MethodPut, "/speakers/living/power/on", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["power"])
	require.Equal(t, float64(2), body["channel"])
	require.Equal(t, false, body["channel_pending"])
	require.True(t, fake.On())
	require.Contains(t, fake.Requests(), "nav$BT")
}

func TestPutErrors(t *testing.T) {
	_, _, h := newTestAPI(t, true)

	tests := []struct {
		name string
		path string
		code int
	}{
		{name: "volume_range", path: "/speakers/living/volume/150", code: http.StatusBadRequest},
		{name: "volume_garbage", path: "/speakers/living/volume/loud", code: http.StatusBadRequest},
		{name: "channel_range", path: "/speakers/living/channel/9", code: http.StatusBadRequest},
		{name: "power_garbage", path: "/speakers/living/power/maybe", code: http.StatusBadRequest},
		{name: "inherit_without_monitor", path: "/speakers/living/volume/inherit", code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, h, http.MethodPut, tt.path, "")
			require.Equal(t, tt.code, rec.Code)
			require.NotEmpty(t, body["error"])
		})
	}
}

func TestPostState(t *testing.T) {
	fake, _, h := newTestAPI(t, true)

	rec, body := do(t, h, http.MethodPost, "/speakers/living/state", `{"volume": 75, "channel": 3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(75), body["volume"])
	require.Equal(t, float64(3), body["channel"])
	require.Equal(t, fidelio.ToNative(75), fake.NativeVolume())
	require.Contains(t, fake.Requests(), "nav$USB")

	rec, _ = do(t, h, http.MethodPost, "/speakers/living/state", `{"bass": 3}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostStateTransportFailure(t *testing.T) {
	fake, _, h := newTestAPI(t, true)
	fake.FailWith(fmt.Sprintf("VOLUME$VAL$%d", fidelio.ToNative(40)), http.StatusInternalServerError)

	rec, body := do(t, h, http.MethodPost, "/speakers/living/state", `{"volume": 40}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.NotEmpty(t, body["error"])
	state, ok := body["state"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(25), state["volume"])
}

func TestStatusCode(t *testing.T) {
	require.Equal(t, http.StatusOK, StatusCode(nil))
	require.Equal(t, http.StatusBadRequest, StatusCode(fmt.Errorf("x: %w", speaker.ErrRange)))
	require.Equal(t, http.StatusBadRequest, StatusCode(speaker.ErrConfiguration))
	require.Equal(t, http.StatusBadGateway, StatusCode(fmt.Errorf("x: %w", fidelio.ErrTransport)))
	require.Equal(t, http.StatusBadGateway, StatusCode(&fidelio.StatusError{StatusCode: 500}))
	require.Equal(t, http.StatusGatewayTimeout, StatusCode(context.DeadlineExceeded))
	require.Equal(t, http.StatusGatewayTimeout, StatusCode(fmt.Errorf("%w: HOMESTATUS: %w", fidelio.ErrTransport, context.DeadlineExceeded)))
	require.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("other")))
}
