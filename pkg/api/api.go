package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	common "github.com/xds-dev/dashboard/pkg"
	"github.com/xds-dev/dashboard/pkg/devel"
	"github.com/xds-dev/dashboard/pkg/projects"
	"github.com/xds-dev/dashboard/pkg/util"
	"github.com/xds-dev/dashboard/pkg/xdsserver"
)

var (
	defaultAllowedOrigins = []string{
		"localhost:8000",
		"http://localhost:4200",
	}
	requestTimeout = 2 * time.Minute
)

//API serves the dashboard state to the web application
type API struct {
	config         Config
	svc            Services
	routes         *mux.Router
	hub            *hub
	upgrader       websocket.Upgrader
	allowedOrigins []string
	log            *logrus.Entry
}

//New creates the API and its routes
func New(config Config, svc Services, log *logrus.Entry) *API {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	a := &API{
		config:         config,
		svc:            svc,
		routes:         mux.NewRouter(),
		allowedOrigins: append(append([]string{}, defaultAllowedOrigins...), config.AllowedOrigins...),
		log:            log.WithField("component", "api"),
	}
	a.hub = newHub(a.log)
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || a.allowedOriginValidator(origin)
		},
	}
	a.addRoutes()
	return a
}

func (a *API) allowedOriginValidator(origin string) bool {
	for _, allowed := range a.allowedOrigins {
		if allowed == origin {
			return true
		}
	}
	host := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.Split(host, ":")[0]
	//allow localhost independent of port
	passCORS := host == "localhost" || host == "127.0.0.1"
	if !passCORS {
		a.log.Warnf("Host %s fails CORS.", origin)
	}
	return passCORS
}

func (a *API) addRoutes() {
	r := a.routes.PathPrefix("/api/" + common.APIVersion).Subrouter()

	r.HandleFunc("/version", a.version).Methods(http.MethodGet)
	r.HandleFunc("/config", a.getConfig).Methods(http.MethodGet)
	r.HandleFunc("/config", a.patchConfig).Methods(http.MethodPatch)
	r.HandleFunc("/projects", a.getProjects).Methods(http.MethodGet)
	r.HandleFunc("/projects", a.addProject).Methods(http.MethodPost)
	r.HandleFunc("/projects/reload", a.reloadProjects).Methods(http.MethodPost)
	r.HandleFunc("/projects/{id}", a.getProject).Methods(http.MethodGet)
	r.HandleFunc("/projects/{id}", a.deleteProject).Methods(http.MethodDelete)
	r.HandleFunc("/sdks", a.getSdks).Methods(http.MethodGet)
	r.HandleFunc("/sdks/refresh", a.refreshSdks).Methods(http.MethodPost)
	r.HandleFunc("/sdks/current", a.getCurrentSdk).Methods(http.MethodGet)
	r.HandleFunc("/sdks/current", a.setCurrentSdk).Methods(http.MethodPut)
	r.HandleFunc("/alerts", a.getAlerts).Methods(http.MethodGet)
	r.HandleFunc("/alerts/{id}", a.deleteAlert).Methods(http.MethodDelete)
	r.HandleFunc("/build/{action:exec|make|prebuild|build|populate}", a.build).Methods(http.MethodPost)
	r.HandleFunc("/build/output", a.getOutput).Methods(http.MethodGet)
	r.HandleFunc("/build/output", a.resetOutput).Methods(http.MethodDelete)
	r.HandleFunc("/commands", a.getCommands).Methods(http.MethodGet)
	r.HandleFunc("/deploy", a.getDeploy).Methods(http.MethodGet)
	r.HandleFunc("/deploy", a.deploy).Methods(http.MethodPost)
	r.HandleFunc("/status", a.status).Methods(http.MethodGet)
	r.HandleFunc("/xdsagent/info", a.agentInfo).Methods(http.MethodGet)
	r.HandleFunc("/events", a.getEventsWebSocket).Methods(http.MethodGet)

	if a.config.WebAppDir != "" {
		a.routes.PathPrefix("/").Handler(http.FileServer(http.Dir(a.config.WebAppDir)))
	}
}

//Handler returns the routes wrapped with the CORS policy
func (a *API) Handler() http.Handler {
	corsOptions := []handlers.CORSOption{
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "Accept", "Accept-Language", "Origin"}),
		handlers.AllowCredentials(),
		handlers.AllowedOrigins(a.allowedOrigins),
		handlers.AllowedOriginValidator(a.allowedOriginValidator),
	}
	return handlers.CORS(corsOptions...)(a.routes)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, projects.ErrInvalidProject):
		return http.StatusNotFound
	case errors.Is(err, devel.ErrNoProject),
		errors.Is(err, projects.ErrDuplicateProject),
		errors.Is(err, projects.ErrUnsupportedType):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), requestTimeout)
}

func (a *API) version(w http.ResponseWriter, r *http.Request) {
	nfo := VersionInfo{
		AppName:    a.config.AppName,
		Version:    a.config.AppVersion,
		APIVersion: common.APIVersion,
	}
	if a.svc.Server != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if v, err := a.svc.Server.GetVersion(ctx); err == nil {
			nfo.Server = v
		} else {
			a.log.Debugf("server version: %v", err)
		}
	}
	writeJSON(w, nfo)
}

func (a *API) getConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, a.svc.Config.Config())
}

func (a *API) patchConfig(w http.ResponseWriter, r *http.Request) {
	var patch ConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cfg := a.svc.Config
	var err error
	if patch.SyncToolURL != nil && err == nil {
		err = cfg.SetSyncToolURL(*patch.SyncToolURL)
	}
	if patch.AgentURL != nil && err == nil {
		err = cfg.SetAgentURL(*patch.AgentURL)
	}
	if patch.AgentRetry != nil && err == nil {
		err = cfg.SetAgentRetry(*patch.AgentRetry)
	}
	if patch.ProjectsRootDir != nil && err == nil {
		err = cfg.SetProjectsRootDir(*patch.ProjectsRootDir)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, cfg.Config())
}

func (a *API) getProjects(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, a.svc.Config.Projects())
}

func (a *API) getProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	prj, ok := a.svc.Config.Project(id)
	if !ok {
		http.Error(w, fmt.Sprintf("%s (id=%s)", projects.ErrInvalidProject, id), http.StatusNotFound)
		return
	}
	writeJSON(w, prj)
}

func (a *API) addProject(w http.ResponseWriter, r *http.Request) {
	var prj projects.Project
	if err := json.NewDecoder(r.Body).Decode(&prj); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	added, err := a.svc.Config.AddProject(ctx, prj)
	if err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	writeJSON(w, added)
}

func (a *API) deleteProject(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()
	prj, err := a.svc.Config.DeleteProject(ctx, mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	writeJSON(w, prj)
}

func (a *API) reloadProjects(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()
	if err := a.svc.Config.LoadProjects(ctx); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, a.svc.Config.Projects())
}

func (a *API) getSdks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, a.svc.Sdks.List())
}

func (a *API) refreshSdks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()
	if err := a.svc.Sdks.Refresh(ctx); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, a.svc.Sdks.List())
}

func (a *API) getCurrentSdk(w http.ResponseWriter, _ *http.Request) {
	sdk, ok := a.svc.Sdks.Current()
	if !ok {
		writeJSON(w, nil)
		return
	}
	writeJSON(w, sdk)
}

func (a *API) setCurrentSdk(w http.ResponseWriter, r *http.Request) {
	var sel struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&sel); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.svc.Sdks.SetCurrent(sel.ID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	a.getCurrentSdk(w, r)
}

func (a *API) getAlerts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, a.svc.Alerts.List())
}

func (a *API) deleteAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !a.svc.Alerts.Del(id) {
		http.Error(w, fmt.Sprintf("unknown alert %d", id), http.StatusNotFound)
		return
	}
	writeJSON(w, id)
}

func (a *API) build(w http.ResponseWriter, r *http.Request) {
	var req BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()

	console := a.svc.Console
	var (
		res *xdsserver.ExecResult
		err error
	)
	switch mux.Vars(r)["action"] {
	case "exec":
		res, err = console.ExecCmd(ctx, req.Request)
	case "make":
		res, err = console.Make(ctx, req.Request, req.Args)
	case "prebuild":
		res, err = console.PreBuild(ctx, req.Request)
	case "build":
		res, err = console.Build(ctx, req.Request)
	case "populate":
		res, err = console.Populate(ctx, req.Request)
	}
	if err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	writeJSON(w, res)
}

func (a *API) getOutput(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, struct {
		Output string `json:"output"`
		Info   string `json:"info"`
	}{a.svc.Console.Output(), a.svc.Console.Info()})
}

func (a *API) resetOutput(w http.ResponseWriter, _ *http.Request) {
	a.svc.Console.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getCommands(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := a.svc.History.ListCommands(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

func (a *API) getDeploy(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, struct {
		Deploying bool `json:"deploying"`
	}{a.svc.Deploy.Deploying()})
}

func (a *API) deploy(w http.ResponseWriter, r *http.Request) {
	var dpy struct {
		BoardIP string `json:"boardIP"`
		File    string `json:"file"`
	}
	if err := json.NewDecoder(r.Body).Decode(&dpy); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	if err := a.svc.Deploy.Deploy(ctx, dpy.BoardIP, dpy.File); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, dpy)
}

func (a *API) currentStatus() Status {
	var st Status
	if a.svc.Server != nil {
		st.Server = a.svc.Server.Status()
	}
	if a.svc.Agent != nil {
		st.Agent = a.svc.Agent.Status()
	}
	return st
}

func (a *API) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, a.currentStatus())
}

//agentInfo lists the agent installers and picks the one matching the browser OS
func (a *API) agentInfo(w http.ResponseWriter, r *http.Request) {
	platform := strings.Trim(r.Header.Get("Sec-CH-UA-Platform"), `"`)
	info := AgentInfo{
		OS:       util.OSNameFromUserAgent(platform, r.UserAgent(), true),
		Packages: a.svc.Config.Config().XDSAgentPackages,
	}
	if pkg, ok := a.svc.Config.AgentPackageFor(info.OS); ok {
		info.Current = &pkg
	}
	writeJSON(w, info)
}

//ServeAPI serves the dashboard API until ctx is done
func ServeAPI(ctx context.Context, config Config, svc Services, log *logrus.Entry) error {
	hostPort := "localhost:%d"
	if !config.Local {
		hostPort = ":%d"
	}
	hostPort = fmt.Sprintf(hostPort, config.ApiPort)

	a := New(config, svc, log)
	a.Start(ctx)

	srv := &http.Server{Addr: hostPort, Handler: a.Handler()}
	errc := make(chan error, 1)
	go func() {
		a.log.Infof("Serving API on %s", hostPort)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.hub.closeAll()
		return srv.Shutdown(shutCtx)
	}
}
