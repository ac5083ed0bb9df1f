package streaming

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"tunestream/internal/catalog"
	"tunestream/internal/quality"
	"tunestream/internal/storage"
)

// newTestStore seeds:
//   - t1: normal and high with segment playlists, hifi as a file only
//   - t2: default audio file, no renditions
//   - t3: nothing playable
//   - t4: file renditions only
func newTestStore() *catalog.InMemoryStore {
	s := catalog.NewInMemoryStore()
	s.PutTrack(catalog.Track{ID: "t1", Title: "One", AudioPath: "t1/default.mp3"})
	s.PutRecord(catalog.Record{TrackID: "t1", Tier: "normal", Format: "aac", BitrateKbps: catalog.IntPtr(128),
		FilePath: "t1/normal.m4a", SegmentPlaylistPath: "t1/normal/index.m3u8"})
	s.PutRecord(catalog.Record{TrackID: "t1", Tier: "high", Format: "aac", BitrateKbps: catalog.IntPtr(320),
		FilePath: "t1/high.m4a", SegmentPlaylistPath: "t1/high/index.m3u8"})
	s.PutRecord(catalog.Record{TrackID: "t1", Tier: "hifi", Format: "flac", SampleRateHz: catalog.IntPtr(44100),
		BitDepth: catalog.IntPtr(16), Channels: catalog.IntPtr(2), FilePath: "t1/hifi.flac"})

	s.PutTrack(catalog.Track{ID: "t2", AudioPath: "t2/default.mp3"})
	s.PutTrack(catalog.Track{ID: "t3"})

	s.PutTrack(catalog.Track{ID: "t4", AudioPath: "t4/default.mp3"})
	s.PutRecord(catalog.Record{TrackID: "t4", Tier: "normal", Format: "mp3", BitrateKbps: catalog.IntPtr(128),
		FilePath: "t4/normal.mp3"})
	return s
}

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	urls, err := storage.NewStaticResolver("https://cdn.test/")
	if err != nil {
		t.Fatal(err)
	}
	cfg.ResolverOptions = append(cfg.ResolverOptions, catalog.WithRetry(0, time.Millisecond))
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := NewService(newTestStore(), urls, NewRegistry(), cfg, log, nil)
	t.Cleanup(svc.Close)
	return svc
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	svc := newTestService(t, Config{DisableSegmented: true})
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewHandler(svc, log)
}

func newTestRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	h.Mount(r)
	return r
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandler_GetQualities(t *testing.T) {
	r := newTestRouter(newTestHandler(t))

	rec := get(r, "/tracks/t1/qualities")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp QualitiesResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TrackID != "t1" || resp.Degraded {
		t.Errorf("unexpected response header fields: %+v", resp)
	}
	if len(resp.Qualities) != 3 {
		t.Fatalf("expected 3 qualities, got %d", len(resp.Qualities))
	}

	tiers := make([]quality.Tier, len(resp.Qualities))
	for i, q := range resp.Qualities {
		tiers[i] = q.Tier
	}
	if tiers[0] != quality.Normal || tiers[1] != quality.High || tiers[2] != quality.HiFi {
		t.Errorf("expected tiers in ascending order, got %v", tiers)
	}

	hifi := resp.Qualities[2]
	if hifi.Label != "HiFi" || !hifi.Lossless || hifi.Segmented {
		t.Errorf("unexpected hifi option: %+v", hifi)
	}
	if !strings.Contains(hifi.Detail, "16-bit") {
		t.Errorf("hifi detail should mention bit depth, got %q", hifi.Detail)
	}
	if !resp.Qualities[1].Segmented || resp.Qualities[1].BitrateKbps != 320 {
		t.Errorf("unexpected high option: %+v", resp.Qualities[1])
	}
}

func TestHandler_GetQualities_degraded(t *testing.T) {
	r := newTestRouter(newTestHandler(t))

	rec := get(r, "/tracks/t2/qualities")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp QualitiesResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Degraded {
		t.Error("expected degraded response")
	}
	if len(resp.Qualities) != 1 || resp.Qualities[0].Tier != quality.Normal {
		t.Errorf("expected single normal tier, got %+v", resp.Qualities)
	}
}

func TestHandler_GetQualities_not_found(t *testing.T) {
	r := newTestRouter(newTestHandler(t))

	for _, path := range []string{"/tracks/missing/qualities", "/tracks/t3/qualities"} {
		rec := get(r, path)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rec.Code)
		}
		var body errorResponse
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body.Error == "" {
			t.Errorf("%s: expected error body, got %v", path, err)
		}
	}
}

func TestHandler_GetMasterPlaylist(t *testing.T) {
	r := newTestRouter(newTestHandler(t))

	rec := get(r, "/tracks/t1/master.m3u8")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != playlistContentType {
		t.Errorf("Content-Type: got %q", ct)
	}
	want := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-INDEPENDENT-SEGMENTS\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=128000,CODECS=\"mp4a.40.2\",NAME=\"Normal\"\n" +
		"https://cdn.test/t1/normal/index.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=320000,CODECS=\"mp4a.40.2\",NAME=\"High\"\n" +
		"https://cdn.test/t1/high/index.m3u8\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("master playlist:\n%s\nwant:\n%s", got, want)
	}
}

func TestHandler_GetMasterPlaylist_errors(t *testing.T) {
	r := newTestRouter(newTestHandler(t))

	cases := []struct {
		path string
		want int
	}{
		{"/tracks/missing/master.m3u8", http.StatusNotFound},
		{"/tracks/t2/master.m3u8", http.StatusServiceUnavailable},
		{"/tracks/t4/master.m3u8", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			if rec := get(r, tc.path); rec.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestHandler_sessions_not_found(t *testing.T) {
	r := newTestRouter(newTestHandler(t))

	if rec := get(r, "/sessions/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("GET: expected 404, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/sessions/nope/end", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("POST end: expected 404, got %d", rec.Code)
	}
}

func TestHandler_Connect_requires_upgrade(t *testing.T) {
	r := newTestRouter(newTestHandler(t))

	if rec := get(r, "/sessions/connect"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a plain GET, got %d", rec.Code)
	}
}
