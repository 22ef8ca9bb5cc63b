package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

var endpoints = []endpointInfo{
	{"/api/v1/container", []string{"GET", "POST"}, "Load an MP4 file (raw body) or read its decoder summary"},
	{"/api/v1/sessions", []string{"GET", "POST"}, "List sessions or start one ({id, repeat}); an existing id is replaced"},
	{"/api/v1/sessions/{id}", []string{"GET", "DELETE"}, "Session snapshot or stop"},
	{"/api/v1/sessions/{id}/runs", []string{"GET"}, "Journal runs with lifecycle events"},
	{"/api/v1/tokens/{token}/awake", []string{"POST"}, "Complete a sleep"},
	{"/api/v1/tokens/{token}/decoder", []string{"POST"}, "Complete a decoder creation ({decoder_id})"},
	{"/api/v1/tokens/{token}", []string{"DELETE"}, "Drop a pending completion; the waiting session stalls"},
	{"/api/v1/sse/host", []string{"GET"}, "Host command stream (Server-Sent Events)"},
	{"/api/v1/health", []string{"GET"}, "Server health and version"},
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "mp4 playback engine API",
		Version:     "v1",
		Description: "Schedules MP4 samples onto decoders owned by a decode host",
		Endpoints:   endpoints,
	})
}
