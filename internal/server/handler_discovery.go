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

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "Reflow API",
		Version:     "v1",
		Description: "Reflow rendering engine — incremental tree scheduling with suspense boundaries and a virtual clock",
		Endpoints: []endpointInfo{
			{"/api/v1/updates", []string{"GET", "POST"}, "Schedule updates and list their status. POST accepts ?wait=true to block until the update commits or aborts"},
			{"/api/v1/updates/{id}", []string{"GET"}, "Single update status"},
			{"/api/v1/tree", []string{"GET"}, "Current committed tree. ?format=text renders the host view"},
			{"/api/v1/boundaries", []string{"GET"}, "Suspense boundary states and deadlines"},
			{"/api/v1/frames", []string{"GET"}, "Committed frames since a sequence number (?since=N)"},
			{"/api/v1/resources", []string{"GET"}, "Resource catalog backing simulated fetches"},
			{"/api/v1/resources/{key}", []string{"GET", "PUT", "DELETE"}, "Single catalog entry. PUT invalidates the cache key"},
			{"/api/v1/resources/invalidate", []string{"POST"}, "Invalidate one cache key or the whole cache"},
			{"/api/v1/cache", []string{"GET"}, "Resource cache contents and epoch"},
			{"/api/v1/scenes", []string{"GET"}, "Stored scene library"},
			{"/api/v1/scenes/{name}", []string{"GET", "PUT", "DELETE"}, "Single scene operations"},
			{"/api/v1/time", []string{"GET"}, "Virtual clock reading and pending timers"},
			{"/api/v1/time/expire", []string{"POST"}, "Advance the virtual clock by duration_ms"},
			{"/api/v1/sse/frames", []string{"GET"}, "Server-Sent Events stream of committed frames"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
