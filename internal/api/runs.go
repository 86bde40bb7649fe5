package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-worker/internal/audit"
	"github.com/JakeFAU/seo-audit-worker/internal/urlutil"
)

// runIDPattern limits caller-supplied ids to characters that are safe in
// archive object paths.
var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

type auditRequest struct {
	RunID         string `json:"run_id"`
	URL           string `json:"url"`
	TargetKeyword string `json:"target_keyword"`
	Email         string `json:"email"`
	Locale        string `json:"locale"`
	AccountID     string `json:"account_id"`
}

type crawlRequest struct {
	CrawlID      string `json:"crawl_id"`
	StartURL     string `json:"start_url"`
	Limit        *int   `json:"limit"`
	SameHostOnly *bool  `json:"same_host_only"`
	MaxDepth     *int   `json:"max_depth"`
	TimeoutMs    *int   `json:"timeout_ms"`
}

type runAccepted struct {
	RunID  string          `json:"run_id"`
	Status audit.RunStatus `json:"status"`
}

func (s *Server) submitAudit(w http.ResponseWriter, r *http.Request) {
	var req auditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if !urlutil.IsHTTP(req.URL) {
		writeError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}
	s.submit(w, r, audit.KindAudit, req.RunID, func(id string) audit.Message {
		return audit.Message{Kind: audit.KindAudit, Audit: &audit.AuditJob{
			RunID:         id,
			PageURL:       req.URL,
			TargetKeyword: strings.TrimSpace(req.TargetKeyword),
			Email:         strings.TrimSpace(req.Email),
			Locale:        strings.TrimSpace(req.Locale),
			AccountID:     strings.TrimSpace(req.AccountID),
		}}
	})
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.StartURL = strings.TrimSpace(req.StartURL)
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.submit(w, r, audit.KindCrawl, req.CrawlID, func(id string) audit.Message {
		return audit.Message{Kind: audit.KindCrawl, Crawl: &audit.CrawlJob{
			CrawlID:      id,
			StartURL:     req.StartURL,
			Limit:        req.Limit,
			SameHostOnly: req.SameHostOnly,
			MaxDepth:     req.MaxDepth,
			Timeout:      req.TimeoutMs,
		}}
	})
}

func (req crawlRequest) validate() error {
	switch {
	case !urlutil.IsHTTP(req.StartURL):
		return errors.New("start_url must be an absolute http(s) URL")
	case req.Limit != nil && *req.Limit <= 0:
		return errors.New("limit must be > 0")
	case req.MaxDepth != nil && *req.MaxDepth < 0:
		return errors.New("max_depth must be >= 0")
	case req.TimeoutMs != nil && *req.TimeoutMs <= 0:
		return errors.New("timeout_ms must be > 0")
	}
	return nil
}

// submit persists a queued run and enqueues the message built for its id.
// requestedID is used when the caller supplied one; otherwise an id is
// generated. A run whose message cannot be enqueued is discarded again.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, kind audit.RunKind, requestedID string, build func(id string) audit.Message) {
	id := strings.TrimSpace(requestedID)
	if id != "" && !runIDPattern.MatchString(id) {
		writeError(w, http.StatusBadRequest, "run id must be 1-128 letters, digits, '.', '_' or '-'")
		return
	}
	if id == "" {
		generated, err := s.deps.IDs.NewID()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "generate run id failed")
			return
		}
		id = generated
	}
	msg := build(id)

	var input audit.RunInput
	if msg.Audit != nil {
		input = msg.Audit.Input()
	} else {
		input = msg.Crawl.Input()
	}
	now := s.deps.Clock.Now()
	run := audit.Run{
		ID:        id,
		Kind:      kind,
		Input:     input,
		Status:    audit.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.deps.Runs.CreateRun(r.Context(), run); err != nil {
		if errors.Is(err, audit.ErrRunExists) {
			writeError(w, http.StatusConflict, fmt.Sprintf("run %s already exists", id))
			return
		}
		s.logger.Error("create run failed", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create run failed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.EnqueueTimeout)
	defer cancel()
	if err := s.deps.Queue.Enqueue(ctx, msg); err != nil {
		s.logger.Error("enqueue run failed", zap.String("run_id", id), zap.Error(err))
		// The request context may be the reason enqueue failed.
		if discardErr := s.deps.Runs.DiscardQueued(context.WithoutCancel(r.Context()), id); discardErr != nil {
			s.logger.Warn("discard unqueued run failed", zap.String("run_id", id), zap.Error(discardErr))
		}
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("enqueue run %s failed", id))
		return
	}
	s.logger.Info("run accepted",
		zap.String("run_id", id),
		zap.String("kind", string(kind)),
		zap.String("url", input.URL),
	)
	writeJSON(w, http.StatusAccepted, runAccepted{RunID: id, Status: audit.StatusQueued})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	switch run.Status {
	case audit.StatusFailed:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"run_id": run.ID,
			"status": string(run.Status),
			"error":  run.Error,
		})
		return
	case audit.StatusReady:
	default:
		writeJSON(w, http.StatusConflict, runAccepted{RunID: run.ID, Status: run.Status})
		return
	}

	body, err := s.deps.Runs.GetResult(r.Context(), run.ID)
	if err != nil {
		s.logger.Error("load result failed", zap.String("run_id", run.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "load result failed")
		return
	}
	if s.deps.Hasher != nil {
		if sum, err := s.deps.Hasher.Hash(body); err == nil {
			w.Header().Set("X-Result-SHA256", sum)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Warn("write result failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (audit.Run, bool) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.deps.Runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return audit.Run{}, false
		}
		s.logger.Error("load run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "load run failed")
		return audit.Run{}, false
	}
	return run, true
}
