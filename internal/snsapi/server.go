// Package snsapi serves the HTTP publish endpoint.
package snsapi

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"offline-sns/internal/logging"
	"offline-sns/internal/metrics"
	"offline-sns/internal/sns"
)

const maxBodyBytes = 256 << 10

// Submitter queues a dispatch pass without waiting for it.
type Submitter interface {
	Submit(ctx context.Context, topicArn string, event sns.Event) error
}

type Options struct {
	Logger  logging.Logger
	Metrics *metrics.Recorder
	// CORSOrigins lists the allowed origins; "*" or empty allows any.
	CORSOrigins []string
}

type Server struct {
	relay   Submitter
	log     logging.Logger
	metrics *metrics.Recorder
	origins map[string]bool
	anyOrig bool
}

func NewServer(relay Submitter, opts Options) *Server {
	s := &Server{
		relay:   relay,
		log:     logging.OrNop(opts.Logger),
		metrics: opts.Metrics,
		origins: make(map[string]bool),
	}
	for _, o := range opts.CORSOrigins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			s.anyOrig = true
		}
		s.origins[o] = true
	}
	if len(s.origins) == 0 {
		s.anyOrig = true
	}
	return s
}

func (s *Server) Register(r *mux.Router) {
	r.Use(s.corsMiddleware)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/", s.handlePublish)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	in, ok := decodePublish(w, r)
	if !ok {
		s.metrics.Rejected()
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.log.Log("Received message for "+in.TopicArn, nil)

	resp := sns.NewPublishResponse("")
	body, err := resp.Marshal()
	if err != nil {
		s.log.Log("encode publish response", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeXML(w, http.StatusOK, body)
	s.metrics.Published(in.TopicArn)

	if err := s.relay.Submit(r.Context(), in.TopicArn, sns.NewEvent(in, resp.MessageID)); err != nil {
		s.metrics.Dropped(in.TopicArn)
		s.log.Log("submit dispatch for "+in.TopicArn, err)
	}
}

// decodePublish reads a JSON object or a query-protocol form body. It reports
// false when the body is not one of those or carries no TopicArn.
func decodePublish(w http.ResponseWriter, r *http.Request) (sns.PublishInput, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return sns.PublishInput{}, false
	}
	var in sns.PublishInput
	if isForm(r.Header.Get("Content-Type")) {
		vals, err := url.ParseQuery(string(raw))
		if err != nil {
			return sns.PublishInput{}, false
		}
		in = sns.PublishInput{
			TopicArn: vals.Get("TopicArn"),
			Subject:  vals.Get("Subject"),
			Message:  vals.Get("Message"),
		}
	} else {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
			return sns.PublishInput{}, false
		}
		in = sns.PublishInput{
			TopicArn: jsonString(obj["TopicArn"]),
			Subject:  jsonString(obj["Subject"]),
			Message:  jsonString(obj["Message"]),
		}
	}
	if strings.TrimSpace(in.TopicArn) == "" {
		return sns.PublishInput{}, false
	}
	return in, true
}

func isForm(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/x-www-form-urlencoded"
}

// jsonString returns a JSON string value as is and any other non-null value
// in its JSON encoding.
func jsonString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.setCORS(w, r.Header.Get("Origin"))
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) setCORS(w http.ResponseWriter, origin string) {
	switch {
	case s.anyOrig:
		w.Header().Set("Access-Control-Allow-Origin", "*")
	case s.origins[origin]:
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Amz-Date, X-Amz-Target")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
}

func writeXML(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = w.Write(body)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
