package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/cfgvault/internal/domain/errs"
	"github.com/dropDatabas3/cfgvault/internal/events"
	"github.com/dropDatabas3/cfgvault/internal/store"
	"github.com/dropDatabas3/cfgvault/internal/syncer"
	"github.com/dropDatabas3/cfgvault/internal/vcs/change"
	"github.com/dropDatabas3/cfgvault/internal/vcs/commit"
	"github.com/dropDatabas3/cfgvault/internal/vcs/history"
)

type handlers struct {
	cfg  ConfigService
	hist HistoryService
	sync SyncService
}

// configKey arma "{namespace}.{key}"; sin key apunta al namespace entero.
func configKey(r *http.Request) string {
	ns := chi.URLParam(r, "namespace")
	key := chi.URLParam(r, "key")
	if key == "" {
		return ns
	}
	return events.Event{Namespace: ns, Key: key}.FullKey()
}

type valueResponse struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (h *handlers) getConfig(w http.ResponseWriter, r *http.Request) {
	key := configKey(r)
	v, ok, err := h.cfg.Get(r.Context(), key)
	if err != nil {
		WriteError(w, err)
		return
	}
	if !ok {
		WriteError(w, errs.NotFound("key", key))
		return
	}
	WriteJSON(w, http.StatusOK, valueResponse{Key: key, Value: v})
}

type putRequest struct {
	Value any `json:"value"`
}

func (h *handlers) putConfig(w http.ResponseWriter, r *http.Request) {
	var body putRequest
	if err := ReadJSON(w, r, &body); err != nil {
		WriteError(w, err)
		return
	}
	key := configKey(r)
	if err := h.cfg.Set(r.Context(), key, body.Value, r.URL.Query().Get("repo")); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, valueResponse{Key: key, Value: body.Value})
}

func (h *handlers) deleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.Delete(r.Context(), configKey(r), r.URL.Query().Get("repo")); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.cfg.ListKeys(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		WriteError(w, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	hs := h.cfg.HealthCheck(r.Context())
	status := http.StatusOK
	overall := store.StatusHealthy
	for _, x := range hs {
		switch x.Status {
		case store.StatusUnhealthy:
			status, overall = http.StatusServiceUnavailable, store.StatusUnhealthy
		case store.StatusDegraded:
			if overall == store.StatusHealthy {
				overall = store.StatusDegraded
			}
		}
	}
	WriteJSON(w, status, map[string]any{"status": overall, "repositories": hs})
}

type commitView struct {
	ID        string          `json:"id"`
	Message   string          `json:"message"`
	Author    string          `json:"author"`
	Timestamp time.Time       `json:"timestamp"`
	ParentIDs []string        `json:"parent_ids"`
	Checksum  string          `json:"checksum"`
	Changes   []change.Change `json:"changes,omitempty"`
}

func viewOf(c *commit.Commit, withChanges bool) commitView {
	v := commitView{
		ID:        c.ID,
		Message:   c.Message,
		Author:    c.Author,
		Timestamp: c.Timestamp,
		ParentIDs: c.ParentIDs,
		Checksum:  c.Checksum,
	}
	if withChanges {
		v.Changes = c.Changes
	}
	return v
}

func intParam(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, ErrBadRequest.WithDetail(name + " must be a non-negative integer")
	}
	return n, nil
}

func (h *handlers) searchHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		WriteError(w, err)
		return
	}
	offset, err := intParam(r, "offset")
	if err != nil {
		WriteError(w, err)
		return
	}
	q := r.URL.Query()
	commits, err := h.hist.Search(history.Query{
		Text:   q.Get("q"),
		Author: q.Get("author"),
		Path:   q.Get("path"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	out := make([]commitView, 0, len(commits))
	for _, c := range commits {
		out = append(out, viewOf(c, false))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"commits": out})
}

func (h *handlers) getCommit(w http.ResponseWriter, r *http.Request) {
	c, err := h.hist.GetCommit(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, viewOf(c, true))
}

type syncStatusResponse struct {
	State   syncer.State          `json:"state"`
	Last    *syncer.Result        `json:"last,omitempty"`
	Pending []syncer.SyncConflict `json:"pending"`
}

func (h *handlers) syncStatus(w http.ResponseWriter, _ *http.Request) {
	pending := h.sync.Pending()
	if pending == nil {
		pending = []syncer.SyncConflict{}
	}
	WriteJSON(w, http.StatusOK, syncStatusResponse{
		State:   h.sync.State(),
		Last:    h.sync.LastResult(),
		Pending: pending,
	})
}

type syncRequest struct {
	Strategy   string   `json:"strategy"`
	Direction  string   `json:"direction"`
	Resolution string   `json:"resolution"`
	Namespaces []string `json:"namespaces"`
}

func (req syncRequest) options() (syncer.RunOptions, error) {
	var (
		ro  syncer.RunOptions
		err error
	)
	if strings.TrimSpace(req.Strategy) != "" {
		if ro.Strategy, err = syncer.ParseStrategy(req.Strategy); err != nil {
			return ro, err
		}
	}
	if strings.TrimSpace(req.Direction) != "" {
		if ro.Direction, err = syncer.ParseDirection(req.Direction); err != nil {
			return ro, err
		}
	}
	if strings.TrimSpace(req.Resolution) != "" {
		if ro.Resolution, err = syncer.ParseResolution(req.Resolution); err != nil {
			return ro, err
		}
	}
	ro.Namespaces = req.Namespaces
	return ro, nil
}

func (h *handlers) runSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.ContentLength != 0 {
		if err := ReadJSON(w, r, &req); err != nil {
			WriteError(w, err)
			return
		}
	}
	ro, err := req.options()
	if err != nil {
		WriteError(w, err)
		return
	}
	res, err := h.sync.Sync(r.Context(), ro)
	if err != nil {
		if res == nil {
			WriteError(w, err)
			return
		}
		// ABORT: la pasada existe y se reporta igual
		WriteJSON(w, http.StatusConflict, res)
		return
	}
	status := http.StatusOK
	if res.Status == syncer.StatusFailed {
		status = http.StatusBadGateway
	}
	WriteJSON(w, status, res)
}
