package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strconv"
	"strings"

	"koffey/internal/auth"
	"koffey/internal/crm"
	"koffey/internal/llm"
	"koffey/internal/queue"
	"koffey/internal/storage"
	"koffey/internal/store"
)

var errArchiveDisabled = errors.New("archive storage disabled")

func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", a.handleReady)
	mux.HandleFunc("GET /debug", a.protect(auth.ScopeArchiveRead, false, a.handleDebug))

	mux.HandleFunc("POST /v1/meddpic/analyze", a.protect(auth.ScopeCoach, true, a.handleAnalyze))
	mux.HandleFunc("POST /v1/roleplay/reply", a.protect(auth.ScopeCoach, true, a.handleRolePlay))

	mux.HandleFunc("GET /v1/conversations/{opp}/{ts}", a.protect(auth.ScopeArchiveRead, false, a.handleGetConversation))
	mux.HandleFunc("GET /v1/analyses/{opp}/{ts}", a.protect(auth.ScopeArchiveRead, false, a.handleGetAnalysis))

	mux.HandleFunc("GET /v1/customers", a.protect(auth.ScopeCRMRead, false, a.handleListCustomers))
	mux.HandleFunc("GET /v1/customers/{id}", a.protect(auth.ScopeCRMRead, false, a.handleGetCustomer))
	mux.HandleFunc("GET /v1/opportunities", a.protect(auth.ScopeCRMRead, false, a.handleListOpportunities))
	mux.HandleFunc("GET /v1/opportunities/{id}", a.protect(auth.ScopeCRMRead, false, a.handleGetOpportunity))
	mux.HandleFunc("GET /v1/opportunities/{id}/conversations", a.protect(auth.ScopeArchiveRead, false, a.handleListOpportunityConversations))

	mux.HandleFunc("GET /v1/contacts", a.protect(auth.ScopeCRMRead, false, a.handleListContacts))
	mux.HandleFunc("POST /v1/contacts", a.protect(auth.ScopeCRMWrite, false, a.handleCreateContact))
	mux.HandleFunc("GET /v1/contacts/{id}", a.protect(auth.ScopeCRMRead, false, a.handleGetContact))
	mux.HandleFunc("PUT /v1/contacts/{id}", a.protect(auth.ScopeCRMWrite, false, a.handleUpdateContact))
	mux.HandleFunc("DELETE /v1/contacts/{id}", a.protect(auth.ScopeCRMWrite, false, a.handleDeleteContact))

	if a.Config.Log.Level == "debug" {
		return a.logRequests(mux)
	}
	return mux
}

// protect authenticates the caller, checks scope and, for LLM-backed routes,
// applies the per-principal rate limit.
func (a *App) protect(scope string, limited bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := a.Auth.AuthenticateRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if err := a.Auth.ValidateScopes(principal, scope); err != nil {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		if limited {
			if ok, retry := a.Limiter.Allow(principal.ActorID); !ok {
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
		}
		next(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	}
}

func (a *App) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.Logger.Printf("http request method=%s path=%s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if a.Store != nil {
		if err := a.Store.Ping(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	if a.Queue != nil {
		if err := a.Queue.Ping(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (a *App) handleDebug(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := a.Observer.Stats()

	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, "<html><body><h1>Koffey Debug</h1>")
	_, _ = fmt.Fprintf(w, "<p>Storage backend: %s</p>", html.EscapeString(a.Config.Storage.Backend))
	if a.Queue != nil {
		depth, _ := a.Queue.Depth(ctx)
		_, _ = fmt.Fprintf(w, "<p>Archive queue depth: %d</p>", depth)
	}
	_, _ = fmt.Fprintf(w, "<h2>Completions</h2><ul>")
	_, _ = fmt.Fprintf(w, "<li>failed attempts: %d</li><li>exhausted: %d</li>", stats.Failures, stats.Exhausted)
	for _, field := range llm.Fields {
		if n := stats.Forced[field]; n > 0 {
			_, _ = fmt.Fprintf(w, "<li>forced POOR %s: %d</li>", field.Label(), n)
		}
	}
	_, _ = fmt.Fprintf(w, "</ul>")
	if a.Store != nil {
		jobs, _ := a.Store.ListArchiveJobs(ctx, 20)
		writeArchiveJobs(w, jobs)
	}
	_, _ = fmt.Fprintf(w, "</body></html>")
}

// Record keys embed caller-supplied opportunity ids, so every field is escaped.
func writeArchiveJobs(w io.Writer, jobs []store.ArchiveJob) {
	_, _ = fmt.Fprintf(w, "<h2>Recent archive jobs</h2><ul>")
	for _, job := range jobs {
		_, _ = fmt.Fprintf(w, "<li>%s %s %s %s</li>", job.CreatedAt.Format("2006-01-02 15:04:05"),
			html.EscapeString(job.Kind), html.EscapeString(job.Status), html.EscapeString(job.RecordKey))
	}
	_, _ = fmt.Fprintf(w, "</ul>")
}

type analyzeRequest struct {
	OpportunityID string    `json:"opportunity_id"`
	Notes         llm.Notes `json:"notes"`
}

func (a *App) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeBody(r, analyzeRequestSchema, &req); err != nil {
		writeErr(w, err)
		return
	}
	res, err := a.Analyzer.Analyze(r.Context(), req.Notes)
	if err != nil {
		a.Logger.Printf("meddpic analyze failed: %v", err)
		writeErr(w, err)
		return
	}
	out := map[string]any{
		"analysis":   res.Text,
		"normalized": res.Normalized,
		"forced":     res.Forced,
	}
	if opp := strings.TrimSpace(req.OpportunityID); opp != "" {
		rec := storage.AnalysisRecord{
			OpportunityID: opp,
			Timestamp:     storage.Timestamp(a.Now()),
			Notes:         req.Notes,
			Analysis:      res.Normalized,
			Result:        res.Text,
		}
		out["archive"] = a.archive(r.Context(), queue.AnalysisJob(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

type rolePlayRequest struct {
	Persona       string            `json:"persona"`
	Scenario      string            `json:"scenario"`
	Conversation  []llm.ChatMessage `json:"conversation"`
	Input         string            `json:"input"`
	OpportunityID string            `json:"opportunity_id"`
	CustomerName  string            `json:"customer_name"`
}

func (a *App) handleRolePlay(w http.ResponseWriter, r *http.Request) {
	var req rolePlayRequest
	if err := decodeBody(r, rolePlayRequestSchema, &req); err != nil {
		writeErr(w, err)
		return
	}
	if strings.TrimSpace(req.Persona) == "" || strings.TrimSpace(req.Scenario) == "" {
		writeError(w, http.StatusBadRequest, "persona and scenario are required")
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		writeError(w, http.StatusBadRequest, "input is required")
		return
	}

	reply, err := a.Coach.RolePlayReply(r.Context(), req.Persona, req.Scenario, req.Conversation, req.Input)
	if err != nil {
		a.Logger.Printf("roleplay reply failed: %v", err)
		writeErr(w, err)
		return
	}
	conversation := make([]llm.ChatMessage, 0, len(req.Conversation)+2)
	conversation = append(conversation, req.Conversation...)
	conversation = append(conversation,
		llm.ChatMessage{Role: llm.RoleUser, Content: req.Input},
		llm.ChatMessage{Role: llm.RoleAssistant, Content: reply},
	)
	out := map[string]any{
		"reply":        reply,
		"conversation": conversation,
	}
	if opp := strings.TrimSpace(req.OpportunityID); opp != "" {
		rec := storage.ConversationRecord{
			OpportunityID: opp,
			CustomerName:  req.CustomerName,
			Timestamp:     storage.Timestamp(a.Now()),
			Persona:       req.Persona,
			Scenario:      req.Scenario,
			Conversation:  conversation,
		}
		out["archive"] = a.archive(r.Context(), queue.ConversationJob(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

type archiveResult struct {
	Queued bool   `json:"queued"`
	JobID  string `json:"job_id,omitempty"`
	storage.Response
}

// archive hands the record to the worker queue when one is configured and
// saves synchronously otherwise. Failures are reported in the result, never
// as a request error.
func (a *App) archive(ctx context.Context, job queue.ArchiveJob) archiveResult {
	a.scrub(&job)
	if a.Queue != nil {
		if err := a.Queue.PushArchiveJob(ctx, job); err != nil {
			a.Logger.Printf("archive enqueue failed id=%s err=%v", job.ID, err)
			return archiveResult{Response: storage.Response{Error: err.Error()}}
		}
		return archiveResult{Queued: true, JobID: job.ID, Response: storage.Response{Success: true}}
	}
	if a.Storage == nil {
		return archiveResult{Response: storage.Response{Error: errArchiveDisabled.Error()}}
	}
	var (
		resp storage.Response
		err  error
	)
	switch job.Kind {
	case queue.KindConversation:
		resp, err = a.Storage.SaveConversation(ctx, *job.Conversation)
	case queue.KindAnalysis:
		resp, err = a.Storage.SaveAnalysis(ctx, *job.Analysis)
	}
	if err != nil {
		a.Logger.Printf("archive save failed kind=%s err=%v", job.Kind, err)
	}
	return archiveResult{Response: resp}
}

// scrub applies the archive policy to copies of the job's records so the
// caller's data is left untouched.
func (a *App) scrub(job *queue.ArchiveJob) {
	if a.Policy == nil {
		return
	}
	redact := func(text string) string {
		out, _ := a.Policy.Apply(text)
		return out
	}
	if job.Conversation != nil {
		rec := *job.Conversation
		rec.Conversation = make([]llm.ChatMessage, len(job.Conversation.Conversation))
		for i, m := range job.Conversation.Conversation {
			rec.Conversation[i] = llm.ChatMessage{Role: m.Role, Content: redact(m.Content)}
		}
		job.Conversation = &rec
	}
	if job.Analysis != nil {
		rec := *job.Analysis
		rec.Notes = make(llm.Notes, len(job.Analysis.Notes))
		for k, v := range job.Analysis.Notes {
			rec.Notes[k] = redact(v)
		}
		rec.Analysis = make(llm.NormalizedNotes, len(job.Analysis.Analysis))
		for k, v := range job.Analysis.Analysis {
			rec.Analysis[k] = redact(v)
		}
		rec.Result = redact(rec.Result)
		job.Analysis = &rec
	}
}

func (a *App) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if a.Storage == nil {
		writeError(w, http.StatusServiceUnavailable, errArchiveDisabled.Error())
		return
	}
	rec, err := a.Storage.GetConversation(r.Context(), r.PathValue("opp")+"/"+r.PathValue("ts"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *App) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	if a.Storage == nil {
		writeError(w, http.StatusServiceUnavailable, errArchiveDisabled.Error())
		return
	}
	rec, err := a.Storage.GetAnalysis(r.Context(), r.PathValue("opp")+"/"+r.PathValue("ts"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *App) handleListOpportunityConversations(w http.ResponseWriter, r *http.Request) {
	if a.Store == nil {
		writeError(w, http.StatusNotImplemented, "listing requires the postgres backend")
		return
	}
	ids, err := a.Store.ListConversationIDs(r.Context(), r.PathValue("id"), 50)
	if err != nil {
		writeErr(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ids": ids})
}

func (a *App) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	page, err := a.CRM.ListCustomers(q)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *App) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	customer, err := a.CRM.GetCustomer(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	opps := a.CRM.OpportunitiesForCustomer(id)
	if opps == nil {
		opps = []crm.Opportunity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer, "opportunities": opps})
}

func (a *App) handleListOpportunities(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	page, err := a.CRM.ListOpportunities(q)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *App) handleGetOpportunity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	opp, err := a.CRM.GetOpportunity(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opp)
}

func (a *App) handleListContacts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.CRM.ListContacts())
}

func (a *App) handleGetContact(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	c, err := a.CRM.GetContact(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *App) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var c crm.Contact
	if err := decodeBody(r, contactRequestSchema, &c); err != nil {
		writeErr(w, err)
		return
	}
	created, err := a.CRM.CreateContact(c)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *App) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var patch crm.ContactPatch
	if err := decodeBody(r, contactRequestSchema, &patch); err != nil {
		writeErr(w, err)
		return
	}
	updated, err := a.CRM.UpdateContact(id, patch)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *App) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := a.CRM.DeleteContact(id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseQuery(r *http.Request) (crm.Query, error) {
	values := r.URL.Query()
	q := crm.Query{
		Search: values.Get("q"),
		Sort:   values.Get("sort"),
		Desc:   strings.EqualFold(values.Get("order"), "desc"),
	}
	var err error
	if v := values.Get("page"); v != "" {
		if q.Page, err = strconv.Atoi(v); err != nil || q.Page < 1 {
			return q, fmt.Errorf("%w: bad page %q", crm.ErrInvalidQuery, v)
		}
	}
	if v := values.Get("page_size"); v != "" {
		if q.PageSize, err = strconv.Atoi(v); err != nil || q.PageSize < 1 {
			return q, fmt.Errorf("%w: bad page_size %q", crm.ErrInvalidQuery, v)
		}
	}
	return q, nil
}

func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad id %q", errInvalidRequest, raw)
	}
	return id, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, llm.ErrRetryExhausted):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, crm.ErrContactNotFound),
		errors.Is(err, crm.ErrCustomerNotFound),
		errors.Is(err, crm.ErrOpportunityNotFound):
		return http.StatusNotFound
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, storage.ErrInvalidID),
		errors.Is(err, storage.ErrInvalidRecord),
		errors.Is(err, crm.ErrInvalidContact),
		errors.Is(err, crm.ErrInvalidQuery):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusNotFound:
		msg = notFoundMessage(err)
	case http.StatusBadGateway:
		msg = "completion service unavailable"
	case http.StatusInternalServerError:
		msg = "internal error"
	}
	writeError(w, status, msg)
}

func notFoundMessage(err error) string {
	for _, target := range []error{crm.ErrContactNotFound, crm.ErrCustomerNotFound, crm.ErrOpportunityNotFound, storage.ErrNotFound} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "not found"
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
