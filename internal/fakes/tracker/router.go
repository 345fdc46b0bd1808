// Package tracker is the built-in vendor-shaped fake: a minimal issue
// tracker with repos, issues and tasks. It is a thin translation from
// the vendor's URL/payload schema onto the state store, and exists to
// exercise the shared runtime end to end.
package tracker

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"

	"github.com/doubleagent/harness/internal/httpx"
	"github.com/doubleagent/harness/internal/resource"
	"github.com/doubleagent/harness/internal/service"
)

const (
	typeRepos  = "repos"
	typeIssues = "issues"
	typeTasks  = "tasks"
	typeHooks  = "hooks"
)

// Router translates tracker-shaped HTTP onto the state overlay.
type Router struct {
	svc *service.Service
}

// Register mounts the tracker surface on the service's vendor router.
func Register(svc *service.Service) *Router {
	t := &Router{svc: svc}
	r := svc.VendorRouter()

	r.HandleFunc("/repos", t.requireAuth(t.listRepos)).Methods("GET")
	r.HandleFunc("/repos", t.requireAuth(t.createRepo)).Methods("POST")
	r.HandleFunc("/repos/{owner}/{name}", t.requireAuth(t.getRepo)).Methods("GET")
	r.HandleFunc("/repos/{owner}/{name}", t.requireAuth(t.patchRepo)).Methods("PATCH")
	r.HandleFunc("/repos/{owner}/{name}", t.requireAuth(t.deleteRepo)).Methods("DELETE")
	r.HandleFunc("/repos/{owner}/{name}/issues", t.requireAuth(t.listIssues)).Methods("GET")
	r.HandleFunc("/repos/{owner}/{name}/issues", t.requireAuth(t.createIssue)).Methods("POST")
	r.HandleFunc("/tasks", t.requireAuth(t.listTasks)).Methods("GET")
	r.HandleFunc("/tasks", t.requireAuth(t.createTask)).Methods("POST")
	r.HandleFunc("/hooks", t.requireAuth(t.createHook)).Methods("POST")
	r.HandleFunc("/hooks", t.requireAuth(t.listHooks)).Methods("GET")
	return t
}

// requireAuth demands a bearer token. Any non-empty token is accepted;
// fakes verify presence, not identity.
func (t *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") == "" {
			httpx.Unauthorized(w, "missing or malformed bearer token")
			return
		}
		next(w, r)
	}
}

func repoKey(r *http.Request) string {
	vars := mux.Vars(r)
	return vars["owner"] + "/" + vars["name"]
}

func decodeBody(r *http.Request) (resource.Resource, error) {
	var body resource.Resource
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	return body, nil
}

// --- repos ---

func (t *Router) listRepos(w http.ResponseWriter, r *http.Request) {
	repos := t.svc.State(r).List(typeRepos, nil)
	sortByID(repos)
	httpx.WriteJSON(w, http.StatusOK, repos)
}

func (t *Router) createRepo(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		httpx.ValidationError(w, err.Error())
		return
	}
	owner, _ := body["owner"].(string)
	name, _ := body["name"].(string)
	if owner == "" || name == "" {
		httpx.ValidationError(w, "owner and name are required")
		return
	}

	st := t.svc.State(r)
	key := owner + "/" + name
	if _, exists := st.Get(typeRepos, key); exists {
		httpx.Conflict(w, fmt.Sprintf("repo %q already exists", key))
		return
	}

	if _, ok := body["id"]; !ok {
		body["id"] = st.NextID(typeRepos)
	}
	body["full_name"] = key
	st.Put(typeRepos, key, body)
	httpx.WriteJSON(w, http.StatusCreated, body)
}

func (t *Router) getRepo(w http.ResponseWriter, r *http.Request) {
	repo, ok := t.svc.State(r).Get(typeRepos, repoKey(r))
	if !ok {
		httpx.NotFound(w, "repo not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, repo)
}

func (t *Router) patchRepo(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		httpx.ValidationError(w, err.Error())
		return
	}

	st := t.svc.State(r)
	key := repoKey(r)
	repo, ok := st.Get(typeRepos, key)
	if !ok {
		httpx.NotFound(w, "repo not found")
		return
	}
	for field, v := range body {
		if field == "id" {
			continue
		}
		repo[field] = v
	}
	st.Put(typeRepos, key, repo)
	httpx.WriteJSON(w, http.StatusOK, repo)
}

func (t *Router) deleteRepo(w http.ResponseWriter, r *http.Request) {
	if existed := t.svc.State(r).Delete(typeRepos, repoKey(r)); !existed {
		httpx.NotFound(w, "repo not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- issues ---

func (t *Router) listIssues(w http.ResponseWriter, r *http.Request) {
	key := repoKey(r)
	st := t.svc.State(r)
	if _, ok := st.Get(typeRepos, key); !ok {
		httpx.NotFound(w, "repo not found")
		return
	}
	issues := st.List(typeIssues, func(res resource.Resource) bool {
		repo, _ := res["repo"].(string)
		return repo == key
	})
	sortByID(issues)
	httpx.WriteJSON(w, http.StatusOK, issues)
}

func (t *Router) createIssue(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		httpx.ValidationError(w, err.Error())
		return
	}
	title, _ := body["title"].(string)
	if title == "" {
		httpx.ValidationError(w, "title is required")
		return
	}

	st := t.svc.State(r)
	key := repoKey(r)
	if _, ok := st.Get(typeRepos, key); !ok {
		httpx.NotFound(w, "repo not found")
		return
	}

	id := st.NextID(typeIssues)
	body["id"] = id
	body["repo"] = key
	if _, ok := body["state"]; !ok {
		body["state"] = "open"
	}
	st.Put(typeIssues, resource.Stringify(id), body)

	t.fireHooks(r, "issues", map[string]interface{}{
		"action": "created",
		"issue":  map[string]interface{}(body),
		"repo":   key,
	})

	httpx.WriteJSON(w, http.StatusCreated, body)
}

// --- tasks ---

func (t *Router) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks := t.svc.State(r).List(typeTasks, nil)
	sortByID(tasks)
	httpx.WriteJSON(w, http.StatusOK, tasks)
}

func (t *Router) createTask(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		httpx.ValidationError(w, err.Error())
		return
	}
	content, _ := body["content"].(string)
	if content == "" {
		httpx.ValidationError(w, "content is required")
		return
	}

	st := t.svc.State(r)
	id := st.NextID(typeTasks)
	body["id"] = id
	st.Put(typeTasks, resource.Stringify(id), body)
	httpx.WriteJSON(w, http.StatusCreated, body)
}

// --- hooks ---

func (t *Router) createHook(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		httpx.ValidationError(w, err.Error())
		return
	}
	url, _ := body["url"].(string)
	if url == "" {
		httpx.ValidationError(w, "url is required")
		return
	}

	st := t.svc.State(r)
	id := st.NextID(typeHooks)
	body["id"] = id
	st.Put(typeHooks, resource.Stringify(id), body)
	httpx.WriteJSON(w, http.StatusCreated, body)
}

func (t *Router) listHooks(w http.ResponseWriter, r *http.Request) {
	hooks := t.svc.State(r).List(typeHooks, nil)
	sortByID(hooks)
	httpx.WriteJSON(w, http.StatusOK, hooks)
}

// fireHooks enqueues one delivery per registered hook in the request's
// namespace. The cache middleware guarantees replayed requests never
// reach this point, so cache hits fire no webhooks.
func (t *Router) fireHooks(r *http.Request, eventType string, payload map[string]interface{}) {
	ns := service.Namespace(r.Context())
	for _, hook := range t.svc.State(r).List(typeHooks, nil) {
		url, _ := hook["url"].(string)
		if url == "" {
			continue
		}
		secret, _ := hook["secret"].(string)
		t.svc.Engine.Deliver(url, eventType, payload, ns, secret, nil)
	}
}

func sortByID(items []resource.Resource) {
	sort.Slice(items, func(i, j int) bool {
		a, _ := items[i].ID()
		b, _ := items[j].ID()
		an, aok := resource.ParseIntID(a)
		bn, bok := resource.ParseIntID(b)
		if aok && bok {
			return an < bn
		}
		return a < b
	})
}
