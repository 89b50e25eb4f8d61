package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pagelens/webinsight/internal/crawler"
	"github.com/pagelens/webinsight/internal/fetcher"
)

type createTargetRequest struct {
	URL string `json:"url"`
}

type crawlResponse struct {
	TargetID int64               `json:"target_id"`
	Status   string              `json:"status"`
	Queue    crawler.QueueStatus `json:"queue"`
}

type bulkCrawlRequest struct {
	TargetIDs []int64 `json:"target_ids"`
}

type bulkCrawlResult struct {
	TargetID int64  `json:"target_id"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) createTarget(w http.ResponseWriter, r *http.Request) {
	var req createTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	rawURL := strings.TrimSpace(req.URL)
	if err := fetcher.ValidateURL(rawURL); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	target, err := s.store.CreateTarget(r.Context(), rawURL)
	if err != nil {
		status, msg := mapStoreError(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("create target failed", zap.Error(err))
		}
		s.writeError(w, status, msg)
		return
	}
	s.writeJSON(w, http.StatusCreated, target)
}

// listTargets returns every target with its latest crawl record. Links are
// only served by the detail endpoint to keep list payloads small.
func (s *Server) listTargets(w http.ResponseWriter, r *http.Request) {
	details, err := s.store.ListTargets(r.Context())
	if err != nil {
		s.logger.Error("list targets failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"targets": details})
}

func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := s.targetID(w, r)
	if !ok {
		return
	}
	target, err := s.store.GetTarget(r.Context(), id)
	if err != nil {
		status, msg := mapStoreError(err)
		s.writeError(w, status, msg)
		return
	}
	record, links, err := s.store.GetCrawl(r.Context(), id)
	if err != nil {
		s.logger.Error("load crawl result failed", zap.Int64("target_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, crawler.TargetDetail{
		Target: target,
		Result: record,
		Links:  links,
	})
}

func (s *Server) deleteTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := s.targetID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteTarget(r.Context(), id); err != nil {
		status, msg := mapStoreError(err)
		s.writeError(w, status, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// startCrawl moves a target back to queued and submits it to the
// dispatcher. A target already running cannot be re-queued.
func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	id, ok := s.targetID(w, r)
	if !ok {
		return
	}
	status, msg := s.enqueueTarget(r, id)
	if status >= http.StatusBadRequest {
		s.writeError(w, status, msg)
		return
	}
	s.writeJSON(w, http.StatusAccepted, crawlResponse{
		TargetID: id,
		Status:   string(crawler.StatusQueued),
		Queue:    s.dispatcher.Status(),
	})
}

func (s *Server) startBulkCrawl(w http.ResponseWriter, r *http.Request) {
	var req bulkCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.TargetIDs) == 0 {
		s.writeError(w, http.StatusBadRequest, "target_ids required")
		return
	}

	results := make([]bulkCrawlResult, 0, len(req.TargetIDs))
	for _, id := range req.TargetIDs {
		status, msg := s.enqueueTarget(r, id)
		res := bulkCrawlResult{TargetID: id}
		if status >= http.StatusBadRequest {
			res.Status = "rejected"
			res.Error = msg
		} else {
			res.Status = string(crawler.StatusQueued)
		}
		results = append(results, res)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"queue":   s.dispatcher.Status(),
	})
}

func (s *Server) queueStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.dispatcher.Status())
}

// enqueueTarget is the shared submit path for single and bulk crawl
// requests. It returns an HTTP status plus an error message for statuses
// >= 400.
func (s *Server) enqueueTarget(r *http.Request, id int64) (int, string) {
	target, err := s.store.GetTarget(r.Context(), id)
	if err != nil {
		status, msg := mapStoreError(err)
		return status, msg
	}
	if target.Status == crawler.StatusRunning {
		return http.StatusConflict, "crawl already in progress"
	}
	// The row is marked queued before the enqueue so the worker never picks
	// up a job whose target still shows its previous status. A rejected
	// enqueue restores that previous status and error message.
	if err := s.store.UpdateTargetStatus(r.Context(), id, crawler.StatusQueued, nil); err != nil {
		status, msg := mapStoreError(err)
		return status, msg
	}
	if err := s.dispatcher.Enqueue(id, target.URL); err != nil {
		if restoreErr := s.store.UpdateTargetStatus(r.Context(), id, target.Status, target.ErrorMessage); restoreErr != nil {
			s.logger.Error("restore target status failed",
				zap.Int64("target_id", id), zap.Error(restoreErr))
		}
		if errors.Is(err, crawler.ErrQueueFull) {
			return http.StatusServiceUnavailable, "crawl queue is full"
		}
		return http.StatusServiceUnavailable, err.Error()
	}
	return http.StatusAccepted, ""
}

func (s *Server) targetID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "target_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid target id")
		return 0, false
	}
	return id, true
}
