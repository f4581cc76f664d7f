package daemon

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"applytrack/internal/queue"
)

const defaultOrphanLimit = 50

func (s *apiServer) handleQueueList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var filter queue.ListFilter
	for _, value := range splitValues(query["status"]) {
		status, ok := queue.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(value))
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	for _, value := range splitValues(query["type"]) {
		itemType, ok := queue.ParseType(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown type "+strconv.Quote(value))
			return
		}
		filter.Types = append(filter.Types, itemType)
	}
	filter.Limit, _ = strconv.Atoi(query.Get("limit"))
	filter.Offset, _ = strconv.Atoi(query.Get("offset"))

	items, err := s.daemon.queue.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if items == nil {
		items = []*queue.Item{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *apiServer) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.daemon.queue.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *apiServer) handleQueueOrphans(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultOrphanLimit
	}
	listings, err := s.daemon.queue.OrphanedListings(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	count, err := s.daemon.queue.OrphanedListingsCount(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if listings == nil {
		listings = []queue.Listing{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"count": count, "listings": listings})
}

func (s *apiServer) handleQueueUnblockAll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Category string `json:"category"`
	}
	if !s.decodeOptionalJSON(w, r, &body) {
		return
	}
	count, err := s.daemon.queue.UnblockAll(r.Context(), strings.TrimSpace(body.Category))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"unblocked": count})
}

func (s *apiServer) handleQueueRecover(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TimeoutMinutes int `json:"timeout_minutes"`
	}
	if !s.decodeOptionalJSON(w, r, &body) {
		return
	}
	timeout := s.daemon.cfg.StuckTimeout()
	if body.TimeoutMinutes > 0 {
		timeout = time.Duration(body.TimeoutMinutes) * time.Minute
	}
	count, err := s.daemon.queue.RecoverStuckProcessing(r.Context(), timeout)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"recovered": count})
}

func (s *apiServer) handleQueueSubmit(w http.ResponseWriter, r *http.Request) {
	kind, ok := queue.ParseType(chi.URLParam(r, "kind"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown queue item type")
		return
	}
	ctx := r.Context()
	var (
		item *queue.Item
		err  error
	)
	switch kind {
	case queue.TypeJob:
		var in queue.JobSubmission
		if !s.decodeJSON(w, r, &in) {
			return
		}
		item, err = s.daemon.queue.SubmitJob(ctx, in)
	case queue.TypeCompany:
		var in queue.CompanySubmission
		if !s.decodeJSON(w, r, &in) {
			return
		}
		item, err = s.daemon.queue.SubmitCompany(ctx, in)
	case queue.TypeScrape:
		var in queue.ScrapeSubmission
		if !s.decodeOptionalJSON(w, r, &in) {
			return
		}
		item, err = s.daemon.queue.SubmitScrape(ctx, in)
	case queue.TypeSourceDiscovery:
		var in queue.SourceDiscoverySubmission
		if !s.decodeJSON(w, r, &in) {
			return
		}
		item, err = s.daemon.queue.SubmitSourceDiscovery(ctx, in)
	case queue.TypeSourceRecover:
		var in queue.SourceRecoverSubmission
		if !s.decodeJSON(w, r, &in) {
			return
		}
		item, err = s.daemon.queue.SubmitSourceRecover(ctx, in)
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, item)
}

func (s *apiServer) handleQueueGet(w http.ResponseWriter, r *http.Request) {
	item, err := s.daemon.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

func (s *apiServer) handleQueueUpdate(w http.ResponseWriter, r *http.Request) {
	var patch queue.Patch
	if !s.decodeJSON(w, r, &patch) {
		return
	}
	item, err := s.daemon.queue.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

func (s *apiServer) handleQueueDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.queue.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleQueueRetry(w http.ResponseWriter, r *http.Request) {
	item, err := s.daemon.queue.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

func (s *apiServer) handleQueueUnblock(w http.ResponseWriter, r *http.Request) {
	item, err := s.daemon.queue.UnblockItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

func (s *apiServer) handleListingUpsert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL         string `json:"url"`
		Title       string `json:"title"`
		CompanyName string `json:"company_name"`
	}
	if !s.decodeJSON(w, r, &body) {
		return
	}
	listing, err := s.daemon.queue.Store().UpsertListing(r.Context(), body.URL, body.Title, body.CompanyName, time.Now())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, listing)
}

func (s *apiServer) handleListingMatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Score float64 `json:"score"`
	}
	if !s.decodeJSON(w, r, &body) {
		return
	}
	if err := s.daemon.queue.Store().RecordMatch(r.Context(), chi.URLParam(r, "id"), body.Score, time.Now()); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeOptionalJSON accepts an empty body as the zero value.
func (s *apiServer) decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return true
	}
	r.Body = io.NopCloser(strings.NewReader(string(body)))
	return s.decodeJSON(w, r, dest)
}

func splitValues(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

