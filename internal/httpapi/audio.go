package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/yapit-tts/yapit-sub000/internal/cache"
)

// handleAudioGet serves GET /v1/audio/{fingerprint} per spec.md §6: raw
// audio bytes with MIME audio/{codec} and the four format headers plus
// duration.
func (s *Server) handleAudioGet(w http.ResponseWriter, r *http.Request) {
	fp := mux.Vars(r)["fingerprint"]
	if fp == "" {
		http.Error(w, "missing fingerprint", http.StatusBadRequest)
		return
	}

	variant, err := s.registry.Lookup(r.Context(), fp)
	if err != nil {
		s.logger.Error("httpapi: lookup variant failed", "fingerprint", fp, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if variant == nil || !variant.HasCacheRef() {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	audio, err := s.cache.Retrieve(r.Context(), *variant.CacheRef)
	if err == cache.ErrNotFound {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("httpapi: retrieve audio failed", "fingerprint", fp, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	var durationMs int64
	if variant.DurationMs != nil {
		durationMs = *variant.DurationMs
	}

	codec := variant.Codec
	if codec == "" {
		codec = "mp3"
	}
	w.Header().Set("Content-Type", "audio/"+codec)
	w.Header().Set("X-Audio-Codec", codec)
	w.Header().Set("X-Sample-Rate", strconv.Itoa(variant.SampleRate))
	w.Header().Set("X-Channels", strconv.Itoa(variant.Channels))
	w.Header().Set("X-Sample-Width", strconv.Itoa(variant.SampleWidth))
	w.Header().Set("X-Duration-Ms", strconv.FormatInt(durationMs, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}
