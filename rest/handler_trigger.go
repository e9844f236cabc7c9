package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/mohitkumar/flowgate/model"
	"github.com/mohitkumar/flowgate/trigger"
)

const MAX_BODY_BYTES = 1 << 20

func (s *Server) HandleWebhookTrigger(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MAX_BODY_BYTES))
	defer r.Body.Close()
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "error reading body")
		return
	}
	res, err := s.services.Webhooks.Handle(r.Context(), trigger.WebhookRequest{
		WorkflowID:    vars["workflowId"],
		WebhookID:     vars["webhookId"],
		Header:        r.Header,
		Body:          body,
		SourceAddress: s.sourceAddress(r),
	})
	if err != nil {
		respondWithErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, res)
}

// sourceAddress is the peer address, or when the peer is a trusted proxy the
// right-most X-Forwarded-For hop that is not itself a trusted proxy.
func (s *Server) sourceAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	fwd := r.Header.Values("X-Forwarded-For")
	if len(fwd) == 0 || !s.trustedProxy(host) {
		return host
	}
	hops := strings.Split(strings.Join(fwd, ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if i == 0 || !s.trustedProxy(hop) {
			return hop
		}
	}
	return host
}

func (s *Server) trustedProxy(addr string) bool {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	for _, prefix := range s.trusted {
		if prefix.Contains(ip) {
			return true
		}
	}
	return false
}

// parseTrustedProxies accepts addresses and CIDR prefixes.
func parseTrustedProxies(list []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, entry := range list {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			out = append(out, prefix.Masked())
			continue
		}
		ip, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		ip = ip.Unmap()
		out = append(out, netip.PrefixFrom(ip, ip.BitLen()))
	}
	return out, nil
}

func (s *Server) HandleScheduleTrigger(w http.ResponseWriter, r *http.Request) {
	results, err := s.services.Schedules.Tick(r.Context(), time.Now())
	if err != nil {
		respondWithErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"processed": len(results), "results": results})
}

func (s *Server) HandleProcessQueue(w http.ResponseWriter, r *http.Request) {
	report, err := s.services.Worker.Tick(r.Context())
	if err != nil {
		respondWithErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

type resumeRequest struct {
	StepExecutionID string         `json:"stepExecutionId"`
	Decision        model.Decision `json:"decision"`
	Payload         map[string]any `json:"payload"`
}

func (s *Server) HandleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()
	if req.StepExecutionID == "" {
		respondWithError(w, http.StatusBadRequest, "stepExecutionId is required")
		return
	}
	out, err := s.services.Resumer.Resume(r.Context(), req.StepExecutionID, req.Decision, req.Payload)
	if err != nil {
		respondWithErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, out)
}
